package catalog

import (
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/kosh-hq/invoice-pipeline/internal/model"
)

// Uncategorized is the fallback category when no keyword matches.
const Uncategorized = "uncategorized"

// KeywordRule maps a keyword to a category. Rules are an ordered priority
// list, not a map: more specific keywords are listed before generic ones and
// the first match wins.
type KeywordRule struct {
	Keyword  string `yaml:"keyword"`
	Category string `yaml:"category"`
}

// Categorizer classifies free-text descriptions into category labels. It is
// deterministic and side-effect free; the rule list is loaded once per
// process and treated as immutable.
type Categorizer struct {
	rules []KeywordRule
}

// defaultRules mirrors the shipped dictionary. Order matters.
var defaultRules = []KeywordRule{
	{"tablet", "pharmacy"},
	{"capsule", "pharmacy"},
	{"syrup", "pharmacy"},
	{"injection", "pharmacy"},
	{"bandage", "pharmacy"},
	{"medicine", "pharmacy"},
	{"charger", "electronics"},
	{"cable", "electronics"},
	{"battery", "electronics"},
	{"led", "electronics"},
	{"switch", "electronics"},
	{"sensor", "electronics"},
	{"shampoo", "fmcg"},
	{"detergent", "fmcg"},
	{"soap", "fmcg"},
	{"paste", "fmcg"},
	{"rice", "food"},
	{"flour", "food"},
	{"milk", "food"},
	{"bread", "food"},
	{"oil", "food"},
	{"fruit", "food"},
	{"veg", "food"},
	{"grocery", "food"},
}

// NewCategorizer creates a Categorizer from an ordered rule list. An empty
// list falls back to the shipped dictionary.
func NewCategorizer(rules []KeywordRule) *Categorizer {
	if len(rules) == 0 {
		rules = defaultRules
	}
	return &Categorizer{rules: rules}
}

// LoadKeywordRules reads an ordered rule list from a YAML file.
func LoadKeywordRules(path string) ([]KeywordRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read keyword file %s", path)
	}
	var rules []KeywordRule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, eris.Wrapf(err, "catalog: parse keyword file %s", path)
	}
	return rules, nil
}

// Categorize returns the category of the first rule whose keyword appears in
// the normalized description, or Uncategorized.
func (c *Categorizer) Categorize(description string) string {
	normalized := Normalize(description)
	if normalized == "" {
		return Uncategorized
	}
	padded := " " + normalized + " "
	for _, rule := range c.rules {
		if strings.Contains(padded, " "+rule.Keyword+" ") {
			return rule.Category
		}
	}
	return Uncategorized
}

// InferSupplierCategory returns the mode category among the supplier's
// matched products, ignoring uncategorized entries. Ties break toward the
// category of the most recently updated product.
func InferSupplierCategory(products []model.Product) string {
	counts := make(map[string]int)
	latest := make(map[string]time.Time)
	for _, p := range products {
		if p.Category == "" || p.Category == Uncategorized {
			continue
		}
		counts[p.Category]++
		if p.UpdatedAt.After(latest[p.Category]) {
			latest[p.Category] = p.UpdatedAt
		}
	}

	best := Uncategorized
	bestCount := 0
	for cat, n := range counts {
		switch {
		case n > bestCount:
			best, bestCount = cat, n
		case n == bestCount && latest[cat].After(latest[best]):
			best = cat
		}
	}
	return best
}
