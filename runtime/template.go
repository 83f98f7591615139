package runtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/valyala/fasttemplate"
)

const (
	templateStartTag = "{{"
	templateEndTag   = "}}"

	// rootVarPrefix restricts a tag to the root scope: {{ $.base_url }}.
	rootVarPrefix = "$."
)

// TemplateEngine renders {{ variable }} interpolation templates
// against a Context. Compiled templates are cached keyed by source
// text; the engine is an explicitly constructed component owned by
// Services, not ambient global state, and is safe for concurrent use.
type TemplateEngine struct {
	cache sync.Map // source -> *fasttemplate.Template
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{}
}

// Render produces the concrete string for a template. Referencing an
// undefined variable fails with TemplateError, as does malformed tag
// syntax. Static templates pass through untouched.
func (e *TemplateEngine) Render(source string, ctx *Context) (string, error) {
	if !strings.Contains(source, templateStartTag) {
		return source, nil
	}

	tpl, err := e.compile(source)
	if err != nil {
		return "", &TemplateError{Template: source, Err: err}
	}

	out, err := tpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		name := strings.TrimSpace(tag)
		if name == "" {
			return 0, fmt.Errorf("empty tag")
		}

		var v any
		var ok bool
		if rest, isRoot := strings.CutPrefix(name, rootVarPrefix); isRoot {
			v, ok = ctx.GetRoot(rest)
		} else {
			v, ok = ctx.Get(name)
		}
		if !ok {
			return 0, &TemplateError{Template: source, Variable: name}
		}
		return w.Write([]byte(formatTemplateValue(v)))
	})
	if err != nil {
		var te *TemplateError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &TemplateError{Template: source, Err: err}
	}
	return out, nil
}

func (e *TemplateEngine) compile(source string) (*fasttemplate.Template, error) {
	if cached, ok := e.cache.Load(source); ok {
		return cached.(*fasttemplate.Template), nil
	}
	tpl, err := fasttemplate.NewTemplate(source, templateStartTag, templateEndTag)
	if err != nil {
		return nil, err
	}
	actual, _ := e.cache.LoadOrStore(source, tpl)
	return actual.(*fasttemplate.Template), nil
}

func formatTemplateValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// Page numbers and counts arrive as float64 from JSON; keep
		// integral values free of a trailing ".0".
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}
