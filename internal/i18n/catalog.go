// Package i18n holds the message catalogs for the wizard's user-facing text.
//
// Catalogs are YAML files keyed by dotted message keys. The en and hi
// catalogs are embedded; a directory of <lang>.yaml files can override or
// extend them at runtime. Lookups fall back to the base language and then to
// the key itself, so a missing translation never renders as an empty string.
package i18n

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// BaseLanguage is the fallback for every lookup.
const BaseLanguage = "en"

//go:embed locales/*.yaml
var embeddedLocales embed.FS

type catalogFile struct {
	Locale   string            `yaml:"locale"`
	Messages map[string]string `yaml:"messages"`
}

// Catalog resolves message keys per language. It is safe for concurrent use.
type Catalog struct {
	mu        sync.RWMutex
	embedded  map[string]map[string]string
	overrides map[string]map[string]string
	merged    map[string]map[string]string
	languages []string
	matcher   language.Matcher
}

// Load returns a Catalog with the embedded languages.
func Load() (*Catalog, error) {
	sub, err := fs.Sub(embeddedLocales, "locales")
	if err != nil {
		return nil, err
	}
	locales, err := readLocales(sub)
	if err != nil {
		return nil, err
	}
	if _, ok := locales[BaseLanguage]; !ok {
		return nil, fmt.Errorf("base language %s is not defined in catalogs", BaseLanguage)
	}

	c := &Catalog{embedded: locales}
	c.rebuild()
	return c, nil
}

// MustLoad is Load for package initialization; the embedded catalogs are
// known to parse.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// LoadOverrides replaces the override layer with the <lang>.yaml files in
// dir. Keys in an override win over the embedded catalog for that language;
// an override for a new language adds it. A missing dir clears the layer.
func (c *Catalog) LoadOverrides(dir string) error {
	var overrides map[string]map[string]string
	if _, err := os.Stat(dir); err == nil {
		overrides, err = readLocales(os.DirFS(dir))
		if err != nil {
			return err
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read catalog overrides: %w", err)
	}

	c.mu.Lock()
	c.overrides = overrides
	c.rebuild()
	c.mu.Unlock()
	return nil
}

func readLocales(fsys fs.FS) (map[string]map[string]string, error) {
	paths, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return nil, fmt.Errorf("glob locale catalogs: %w", err)
	}
	sort.Strings(paths)

	locales := make(map[string]map[string]string, len(paths))
	for _, path := range paths {
		data, err := fs.ReadFile(fsys, path)
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", path, err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", path, err)
		}

		fromPath := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		locale := strings.TrimSpace(file.Locale)
		if locale == "" {
			locale = fromPath
		}
		if locale != fromPath {
			return nil, fmt.Errorf("catalog %s: locale %q must match file name", path, locale)
		}
		if _, err := language.Parse(locale); err != nil {
			return nil, fmt.Errorf("catalog %s: invalid locale %q: %w", path, locale, err)
		}

		messages := make(map[string]string, len(file.Messages))
		for key, value := range file.Messages {
			key = strings.TrimSpace(key)
			if key == "" {
				return nil, fmt.Errorf("catalog %s: message key cannot be blank", path)
			}
			messages[key] = value
		}
		locales[locale] = messages
	}
	return locales, nil
}

// rebuild must be called with c.mu held for writing (or before c is shared).
func (c *Catalog) rebuild() {
	merged := make(map[string]map[string]string, len(c.embedded)+len(c.overrides))
	for _, layer := range []map[string]map[string]string{c.embedded, c.overrides} {
		for locale, messages := range layer {
			dst, ok := merged[locale]
			if !ok {
				dst = make(map[string]string, len(messages))
				merged[locale] = dst
			}
			for k, v := range messages {
				dst[k] = v
			}
		}
	}

	languages := make([]string, 0, len(merged))
	for locale := range merged {
		languages = append(languages, locale)
	}
	sort.Strings(languages)
	// the base language goes first so the matcher falls back to it
	sort.SliceStable(languages, func(i, j int) bool { return languages[i] == BaseLanguage })

	tags := make([]language.Tag, 0, len(languages))
	for _, l := range languages {
		tags = append(tags, language.Make(l))
	}

	c.merged = merged
	c.languages = languages
	c.matcher = language.NewMatcher(tags)
}

// Languages returns the available language codes, base language first.
func (c *Catalog) Languages() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.languages...)
}

// Supports reports whether lang has a catalog.
func (c *Catalog) Supports(lang string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.merged[lang]
	return ok
}

// Negotiate picks the best available language for the given preferences,
// each either a language code or an Accept-Language header value. It
// returns BaseLanguage when nothing matches.
func (c *Catalog) Negotiate(prefs ...string) string {
	var desired []language.Tag
	for _, p := range prefs {
		if strings.TrimSpace(p) == "" {
			continue
		}
		tags, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		desired = append(desired, tags...)
	}
	if len(desired) == 0 {
		return BaseLanguage
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, index, confidence := c.matcher.Match(desired...)
	if confidence == language.No {
		return BaseLanguage
	}
	return c.languages[index]
}

// Lookup returns the message for key in lang, falling back to the base
// language. ok is false when neither has the key.
func (c *Catalog) Lookup(lang, key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.merged[lang][key]; ok {
		return v, true
	}
	if v, ok := c.merged[BaseLanguage][key]; ok {
		return v, true
	}
	return "", false
}

// T returns the message for key in lang, or key itself when no catalog has
// it.
func (c *Catalog) T(lang, key string) string {
	if v, ok := c.Lookup(lang, key); ok {
		return v
	}
	return key
}

// Messages returns every message for lang with base-language fallback
// applied.
func (c *Catalog) Messages(lang string) map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]string, len(c.merged[BaseLanguage]))
	for k, v := range c.merged[BaseLanguage] {
		out[k] = v
	}
	for k, v := range c.merged[lang] {
		out[k] = v
	}
	return out
}
