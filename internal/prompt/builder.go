// Package prompt builds the text exchanged during registration: the
// extraction prompt sent to the LLM and the replies shown to the user.
// Replies are rendered from an embedded message catalog and never generated
// by the model.
package prompt

import (
	_ "embed"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/fitreg/internal/profile"
)

//go:embed messages.yaml
var catalogYAML []byte

// DefaultLocale is used when no locale is configured.
const DefaultLocale = "en"

type catalog struct {
	Labels   map[string]string `yaml:"labels"`
	Examples map[string]string `yaml:"examples"`
	Genders  map[string]string `yaml:"genders"`
	Levels   map[string]string `yaml:"levels"`
	Messages struct {
		Welcome             string            `yaml:"welcome"`
		BasicCollected      string            `yaml:"basic_collected"`
		BasicMissing        string            `yaml:"basic_missing"`
		LevelQuestion       string            `yaml:"level_question"`
		LevelCollected      map[string]string `yaml:"level_collected"`
		GoalQuestion        string            `yaml:"goal_question"`
		Confirmation        string            `yaml:"confirmation"`
		ConfirmationMissing string            `yaml:"confirmation_missing"`
		Completed           string            `yaml:"completed"`
		AlreadyComplete     string            `yaml:"already_complete"`
		Edit                string            `yaml:"edit"`
	} `yaml:"messages"`
}

// Template names.
const (
	tmplBasicCollected      = "basic_collected"
	tmplBasicMissing        = "basic_missing"
	tmplConfirmation        = "confirmation"
	tmplConfirmationMissing = "confirmation_missing"
	tmplCompleted           = "completed"
	tmplEdit                = "edit"
)

// Builder renders user-facing messages for one locale. It is safe for
// concurrent use.
type Builder struct {
	locale string
	cat    catalog
	tmpl   *template.Template
}

// Locales returns the locales available in the embedded catalog.
func Locales() ([]string, error) {
	all, err := loadCatalogs()
	if err != nil {
		return nil, err
	}
	locales := make([]string, 0, len(all))
	for l := range all {
		locales = append(locales, l)
	}
	slices.Sort(locales)
	return locales, nil
}

func loadCatalogs() (map[string]catalog, error) {
	var all map[string]catalog
	if err := yaml.Unmarshal(catalogYAML, &all); err != nil {
		return nil, fmt.Errorf("parsing message catalog: %w", err)
	}
	return all, nil
}

// New returns a Builder for locale. An empty locale selects DefaultLocale.
func New(locale string) (*Builder, error) {
	if locale == "" {
		locale = DefaultLocale
	}
	all, err := loadCatalogs()
	if err != nil {
		return nil, err
	}
	cat, ok := all[locale]
	if !ok {
		return nil, fmt.Errorf("unknown locale %q", locale)
	}

	b := &Builder{locale: locale, cat: cat}
	b.tmpl = template.New(locale).Funcs(template.FuncMap{
		"labels":  b.labels,
		"example": func(f profile.Field) string { return cat.Examples[string(f)] },
		"gender":  func(g string) string { return lookup(cat.Genders, g) },
		"level":   func(l string) string { return lookup(cat.Levels, l) },
	})

	for name, text := range map[string]string{
		tmplBasicCollected:      cat.Messages.BasicCollected,
		tmplBasicMissing:        cat.Messages.BasicMissing,
		tmplConfirmation:        cat.Messages.Confirmation,
		tmplConfirmationMissing: cat.Messages.ConfirmationMissing,
		tmplCompleted:           cat.Messages.Completed,
		tmplEdit:                cat.Messages.Edit,
	} {
		if text == "" {
			return nil, fmt.Errorf("locale %s: message %s is empty", locale, name)
		}
		if _, err := b.tmpl.New(name).Parse(text); err != nil {
			return nil, fmt.Errorf("locale %s: parsing %s: %w", locale, name, err)
		}
	}
	return b, nil
}

// Locale returns the builder's locale.
func (b *Builder) Locale() string { return b.locale }

// Label returns the human-readable name of f.
func (b *Builder) Label(f profile.Field) string {
	return lookup(b.cat.Labels, string(f))
}

func (b *Builder) labels(fields []profile.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = b.Label(f)
	}
	return strings.Join(names, ", ")
}

func lookup(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

// view is the template data for a profile. Unset values render as "?".
type view struct {
	Age, Gender, Height, Weight string
	FitnessLevel, FitnessGoal   string
	Missing                     []profile.Field
}

func newView(p profile.Profile) view {
	str := func(f profile.Field) string {
		v, ok := p.Value(f)
		if !ok {
			return "?"
		}
		switch v := v.(type) {
		case int:
			return strconv.Itoa(v)
		case string:
			return v
		}
		return fmt.Sprint(v)
	}
	return view{
		Age:          str(profile.FieldAge),
		Gender:       str(profile.FieldGender),
		Height:       str(profile.FieldHeight),
		Weight:       str(profile.FieldWeight),
		FitnessLevel: str(profile.FieldFitnessLevel),
		FitnessGoal:  str(profile.FieldFitnessGoal),
	}
}

func (b *Builder) render(name string, data view) string {
	var sb strings.Builder
	if err := b.tmpl.ExecuteTemplate(&sb, name, data); err != nil {
		slog.Error("rendering message", "template", name, "locale", b.locale, "error", err)
		return ""
	}
	return sb.String()
}

// Welcome is the greeting sent on first contact. It doubles as the
// instruction resent when a message yields no data.
func (b *Builder) Welcome() string { return b.cat.Messages.Welcome }

// BasicCollected summarizes the four basic fields.
func (b *Builder) BasicCollected(p profile.Profile) string {
	return b.render(tmplBasicCollected, newView(p))
}

// BasicMissing asks for exactly the given fields with example phrasings.
func (b *Builder) BasicMissing(missing []profile.Field) string {
	return b.render(tmplBasicMissing, view{Missing: missing})
}

// LevelQuestion lists the accepted fitness levels.
func (b *Builder) LevelQuestion() string { return b.cat.Messages.LevelQuestion }

// LevelCollected acknowledges the given level.
func (b *Builder) LevelCollected(level profile.FitnessLevel) string {
	return b.cat.Messages.LevelCollected[string(level)]
}

// GoalQuestion asks for the fitness goal.
func (b *Builder) GoalQuestion() string { return b.cat.Messages.GoalQuestion }

// Confirmation shows the full profile and asks to confirm or edit.
func (b *Builder) Confirmation(p profile.Profile) string {
	return b.render(tmplConfirmation, newView(p))
}

// ConfirmationMissing lists fields that must be collected again.
func (b *Builder) ConfirmationMissing(missing []profile.Field) string {
	return b.render(tmplConfirmationMissing, view{Missing: missing})
}

// Completed is sent when the user confirms the profile.
func (b *Builder) Completed(p profile.Profile) string {
	return b.render(tmplCompleted, newView(p))
}

// AlreadyComplete is the fixed reply after registration.
func (b *Builder) AlreadyComplete() string { return b.cat.Messages.AlreadyComplete }

// EditInstructions shows the current basic values and invites changes.
func (b *Builder) EditInstructions(p profile.Profile) string {
	return b.render(tmplEdit, newView(p))
}
