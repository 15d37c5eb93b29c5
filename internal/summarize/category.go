// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package summarize

import (
	"cmp"
	"slices"
	"strings"
)

// Categories lists the suggested categories in display order. Summarizers may
// return others.
var Categories = []string{
	"tech_news",
	"ai_ml",
	"security",
	"programming",
	"science",
	"business",
	"politics",
	"culture",
	"other",
}

// CompareCategories orders categories for display: suggested ones first, in
// the order of [Categories], then the rest alphabetically.
func CompareCategories(a, b string) int {
	ia, ib := slices.Index(Categories, a), slices.Index(Categories, b)
	switch {
	case ia >= 0 && ib >= 0:
		return cmp.Compare(ia, ib)
	case ia >= 0:
		return -1
	case ib >= 0:
		return 1
	}
	return strings.Compare(a, b)
}

// CategoryTitle returns a human-readable heading for a category.
func CategoryTitle(c string) string {
	switch c {
	case "ai_ml":
		return "AI & ML"
	case "tech_news":
		return "Tech News"
	}
	words := strings.Split(c, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
