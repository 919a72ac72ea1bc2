package explain

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"headless-sentinel/internal/parser"
	"headless-sentinel/internal/types"
)

// Explainer fills the human-readable Summary and Explanation of a firing
type Explainer interface {
	Explain(ctx context.Context, f *types.Firing) error
}

// TemplateExplainer renders fixed text from the firing and the event catalogue
type TemplateExplainer struct{}

func NewTemplateExplainer() *TemplateExplainer {
	return &TemplateExplainer{}
}

func (e *TemplateExplainer) Explain(_ context.Context, f *types.Firing) error {
	trig := f.Trigger
	f.Summary = fmt.Sprintf("%s: %d x event %d on %s", f.Rule, f.Count, trig.EventCode, trig.Host)

	var b strings.Builder
	fmt.Fprintf(&b, "%s (event %d) occurred %d times within %s for %s.",
		parser.Describe(trig.EventCode), trig.EventCode, f.Count, f.Window, f.GroupKey)
	if trig.User != "" {
		fmt.Fprintf(&b, " Account: %s.", trig.User)
	}

	fields := parser.ExtractFields(trig.Message)
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+fields[k])
		}
		b.WriteString(" " + strings.Join(parts, ", ") + ".")
	}
	f.Explanation = b.String()
	return nil
}

// Chain runs the template first, then lets the optional LLM replace the
// explanation. LLM failures keep the template text.
type Chain struct {
	Template *TemplateExplainer
	LLM      Explainer
}

func (c *Chain) Explain(ctx context.Context, f *types.Firing) error {
	if err := c.Template.Explain(ctx, f); err != nil {
		return err
	}
	if c.LLM == nil {
		return nil
	}
	if err := c.LLM.Explain(ctx, f); err != nil {
		log.Warn().Err(err).Str("rule", f.Rule).Msg("LLM explanation failed, keeping template")
	}
	return nil
}
