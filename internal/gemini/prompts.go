package gemini

import (
	"fmt"
	"strings"

	"github.com/threadpilot/threadpilot/internal/database"
)

// Default length bounds shown in the prompt when a template sets only one.
const (
	defaultMinLen = 0
	defaultMaxLen = 500
)

// BuildReplyPrompt assembles the generation prompt. Construction is
// deterministic and ordered: original text, persona name and style, the
// persona's example posts, template constraints when supplied, and the
// closing instruction asking for a natural Japanese reply in the persona's
// voice.
func BuildReplyPrompt(text string, persona *database.Persona, template *database.Template) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "元の投稿: %q\n\n", text)

	fmt.Fprintf(&sb, "ペルソナ: %s\n", persona.DisplayName)
	fmt.Fprintf(&sb, "スタイル: %s\n\n", persona.Style)

	if len(persona.RecentPosts) > 0 {
		sb.WriteString("過去の投稿例:\n")
		for i, post := range persona.RecentPosts {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, post)
		}
		sb.WriteString("\n")
	}

	if template != nil {
		fmt.Fprintf(&sb, "テンプレート: %s\n", template.Body)
		if template.Intent != "" {
			fmt.Fprintf(&sb, "意図: %s\n", template.Intent)
		}
		if template.CTA.Valid && template.CTA.String != "" {
			fmt.Fprintf(&sb, "CTA: %s\n", template.CTA.String)
		}
		if template.MinLen.Valid || template.MaxLen.Valid {
			minLen := int64(defaultMinLen)
			if template.MinLen.Valid {
				minLen = template.MinLen.Int64
			}
			maxLen := int64(defaultMaxLen)
			if template.MaxLen.Valid {
				maxLen = template.MaxLen.Int64
			}
			fmt.Fprintf(&sb, "文字数制限: %d文字〜%d文字\n", minLen, maxLen)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("上記のペルソナとスタイルに基づいて、元の投稿に対する自然で魅力的な返信を生成してください。")
	sb.WriteString("日本語で返信し、ペルソナの特徴を反映した口調と内容にしてください。")

	return sb.String()
}
