package campaign

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mutter0815/tenantcast/internal/store"
	"github.com/Mutter0815/tenantcast/pkg/model"
)

var (
	ErrNoTranslation   = errors.New("no approved template translation")
	ErrUnboundVariable = errors.New("template variable has no value")
)

type TranslationSource interface {
	GetTemplateTranslation(ctx context.Context, templateID int64, language string) (model.TemplateTranslation, error)
}

// Resolved is what a message needs to be sent.
type Resolved struct {
	TemplateName string
	Language     string
	Variables    []string
}

// TemplateResolver resolves one template for the contacts of a single run.
// Lookups are cached per language for the resolver's lifetime.
type TemplateResolver struct {
	src        TranslationSource
	templateID int64
	fallback   string
	cache      map[string]*model.TemplateTranslation
}

func NewTemplateResolver(src TranslationSource, templateID int64, fallbackLanguage string) *TemplateResolver {
	return &TemplateResolver{
		src:        src,
		templateID: templateID,
		fallback:   fallbackLanguage,
		cache:      map[string]*model.TemplateTranslation{},
	}
}

// IsDataError reports per-contact failures that must not stop a run.
func IsDataError(err error) bool {
	return errors.Is(err, ErrNoTranslation) || errors.Is(err, ErrUnboundVariable)
}

func (r *TemplateResolver) Resolve(ctx context.Context, ct model.Contact) (Resolved, error) {
	lang := ct.Language
	if lang == "" {
		lang = r.fallback
	}
	tr, err := r.lookup(ctx, lang)
	if err != nil {
		return Resolved{}, err
	}
	if tr == nil && lang != r.fallback {
		if tr, err = r.lookup(ctx, r.fallback); err != nil {
			return Resolved{}, err
		}
	}
	if tr == nil {
		return Resolved{}, fmt.Errorf("template %d in %q or %q: %w", r.templateID, lang, r.fallback, ErrNoTranslation)
	}

	vars := make([]string, 0, len(tr.Bindings))
	for i, b := range tr.Bindings {
		v := ct.Field(b.Field)
		if v == "" {
			v = b.Fallback
		}
		if v == "" {
			return Resolved{}, fmt.Errorf("{{%d}} bound to %q: %w", i+1, b.Field, ErrUnboundVariable)
		}
		vars = append(vars, v)
	}
	return Resolved{TemplateName: tr.GatewayName, Language: tr.Language, Variables: vars}, nil
}

// lookup returns nil when the language has no approved translation.
func (r *TemplateResolver) lookup(ctx context.Context, lang string) (*model.TemplateTranslation, error) {
	if tr, ok := r.cache[lang]; ok {
		return tr, nil
	}
	tr, err := r.src.GetTemplateTranslation(ctx, r.templateID, lang)
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.cache[lang] = nil
		return nil, nil
	case err != nil:
		return nil, err
	}
	if tr.ApprovalStatus != model.ApprovalApproved {
		r.cache[lang] = nil
		return nil, nil
	}
	r.cache[lang] = &tr
	return &tr, nil
}
