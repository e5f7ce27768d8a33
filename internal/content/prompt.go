package content

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"autoblog/internal/jobs"
	"autoblog/internal/providers"
)

var languageInstructions = map[string]string{
	"ko": "모든 응답은 한국어로 작성해주세요.",
	"en": "Please respond in English.",
}

// BuildRequest turns a normalized generation request into the system and
// user messages sent to the model. Model defaults apply to everything else.
func BuildRequest(req jobs.GenerationRequest) providers.ChatRequest {
	return providers.ChatRequest{
		Messages: []providers.ChatMessage{
			{Role: providers.RoleSystem, Content: systemPrompt(req)},
			{Role: providers.RoleUser, Content: userPrompt(req)},
		},
	}
}

func systemPrompt(req jobs.GenerationRequest) string {
	var b strings.Builder
	b.WriteString("You are a professional content writer. Write a high quality blog post on the given topic.\n\n")
	b.WriteString("Requirements:\n")
	fmt.Fprintf(&b, "- Tone: %s\n", req.Tone)
	fmt.Fprintf(&b, "- Target length: about %d words\n", req.WordCount)
	fmt.Fprintf(&b, "- Language: %s\n", req.TargetLanguage)
	if ins, ok := languageInstructions[req.TargetLanguage]; ok {
		b.WriteString("\n")
		b.WriteString(ins)
		b.WriteString("\n")
	}
	b.WriteString(`
Reply with a single JSON object of this shape:
{
    "title": "an engaging, SEO friendly title",
    "content": "the article body in Markdown",
    "summary": "a two or three sentence summary",
    "tags": ["related", "tag", "list"]
}

The article should have an engaging introduction, a structured body with
headings and subheadings, practical information and insight, and a natural
conclusion.`)
	return b.String()
}

func userPrompt(req jobs.GenerationRequest) string {
	return fmt.Sprintf("Write a blog post of about %d words in a %s tone on the following topic:\n\nTopic: %s", req.WordCount, req.Tone, req.Topic)
}

// ParseReply extracts structured content from a model reply. It decodes the
// span between the first '{' and the last '}'. When there is no such span or
// it is not a JSON object the whole reply becomes the content.
func ParseReply(reply, topic string) jobs.GeneratedContent {
	fallback := jobs.GeneratedContent{
		Title:   defaultTitle(topic),
		Content: reply,
		Tags:    []string{},
		Images:  []jobs.GeneratedImage{},
	}

	start := strings.IndexByte(reply, '{')
	end := strings.LastIndexByte(reply, '}')
	if start < 0 || end <= start {
		return fallback
	}
	span := reply[start : end+1]
	if !gjson.Valid(span) {
		return fallback
	}
	doc := gjson.Parse(span)
	if !doc.IsObject() {
		return fallback
	}

	out := fallback
	if v := doc.Get("title"); v.Type == gjson.String && strings.TrimSpace(v.String()) != "" {
		out.Title = strings.TrimSpace(v.String())
	}
	if v := doc.Get("content"); v.Type == gjson.String {
		out.Content = v.String()
	}
	if v := doc.Get("summary"); v.Type == gjson.String {
		out.Summary = jobs.StringPtr(v.String())
	}
	if v := doc.Get("tags"); v.IsArray() {
		for _, t := range v.Array() {
			if s := strings.TrimSpace(t.String()); s != "" {
				out.Tags = append(out.Tags, s)
			}
		}
	}
	return out
}

func defaultTitle(topic string) string {
	return "Content about " + topic
}
