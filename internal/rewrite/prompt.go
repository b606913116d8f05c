// Package rewrite はLLMを用いて元記事をフランス語の記事に書き直す。
package rewrite

import (
	"strings"
	"text/template"

	"github.com/hitoshi/chronique/internal/model"
)

// excerptLimit はプロンプトに含める本文の最大文字数（ルーン単位）。
const excerptLimit = 4000

var promptTemplate = template.Must(template.New("prompt").Parse(
	`Tu es le rédacteur en chef de "La Chronique du Ciel", un média français spécialisé dans l'aviation civile, les compagnies aériennes, les aéroports et l'industrie aéronautique.

Tu vas réécrire cet article anglais en français. Ce n'est PAS une traduction : tu dois réécrire l'article avec ton propre style éditorial, en gardant les faits essentiels mais en l'adaptant pour un lecteur français passionné d'aviation.

ARTICLE SOURCE :
Titre : {{.Title}}
URL source : {{.URL}}
Contenu :
{{.Content}}

CONSIGNES :
- Titre accrocheur en français (pas une traduction littérale du titre anglais)
- Style journalistique, dynamique, accessible mais expert
- Conserve tous les faits importants : chiffres, noms de compagnies, modèles d'avions
- Adapte les unités si pertinent (miles → km, etc.)
- Longueur : entre 400 et 700 mots
- Pas de mention que cet article est une réécriture d'un article anglais

Réponds UNIQUEMENT avec ce JSON (sans balises markdown, sans explication) :
{
  "titleFr": "Titre de l'article en français",
  "summaryFr": "Résumé de 2-3 phrases pour la page d'accueil",
  "contentFr": "Contenu complet de l'article en HTML simple (utilise <p>, <h2>, <strong>, <ul>, <li>)",
  "metaDescFr": "Description SEO de 155 caractères maximum",
  "tags": ["tag1", "tag2", "tag3"]
}`))

// BuildPrompt は元記事から書き直し用のプロンプトを組み立てる。
// 同じ入力に対して常に同じ文字列を返す。
func BuildPrompt(item model.SourceItem) string {
	var b strings.Builder
	// テンプレートは固定でフィールドも文字列のみのため、実行エラーは発生しない
	_ = promptTemplate.Execute(&b, struct {
		Title   string
		URL     string
		Content string
	}{
		Title:   item.SourceTitle,
		URL:     item.SourceURL,
		Content: truncateRunes(item.RawContent, excerptLimit),
	})
	return b.String()
}

// truncateRunes はsの先頭n文字（ルーン単位）を返す。
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
