// Package i18n holds the short system texts the channel bots send on their
// own (command replies, throttling notices). Agent replies are not
// translated here.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"

	"gopkg.in/yaml.v3"
)

//go:embed locales
var LocalesFS embed.FS

// DefaultLang is used when a configured language has no locale file.
const DefaultLang = "en"

type Translator struct {
	lang         string
	translations map[string]string
}

// NewTranslator loads locales/<lang>.yaml from fsys.
func NewTranslator(fsys fs.FS, lang string) (*Translator, error) {
	if lang == "" {
		lang = DefaultLang
	}
	data, err := fs.ReadFile(fsys, path.Join("locales", lang+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("read locale %s: %w", lang, err)
	}
	t, err := newTranslatorFromBytes(data)
	if err != nil {
		return nil, err
	}
	t.lang = lang
	return t, nil
}

func newTranslatorFromBytes(data []byte) (*Translator, error) {
	var translations map[string]string
	if err := yaml.Unmarshal(data, &translations); err != nil {
		return nil, fmt.Errorf("parse locale: %w", err)
	}
	return &Translator{translations: translations}, nil
}

// T formats the text for key. Unknown keys come back as the key itself.
func (t *Translator) T(key string, args ...any) string {
	format, ok := t.translations[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(format, args...)
	}
	return format
}

func (t *Translator) Lang() string { return t.lang }
