package runtime

import (
	"context"
	"testing"
	"time"
)

func runStep(t *testing.T, svc *Services, step Step, in Value) (Value, []Warning) {
	t.Helper()
	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{step}, Nullable: true})
	return fe.Extract(context.Background(), "field", NewContext(svc, nil), in)
}

func TestConstStep(t *testing.T) {
	v, _ := runStep(t, newTestServices(), Step{Kind: StepConst, Const: "fixed"}, Null())
	if text, _ := v.AsText(); text != "fixed" {
		t.Errorf("got %q, want fixed", text)
	}
}

func TestVarStep(t *testing.T) {
	svc := newTestServices()
	ctx := NewContext(svc, map[string]any{"base_url": "https://x.example"})
	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepVar, Var: "base_url"}}})

	v, warnings := fe.Extract(context.Background(), "f", ctx, Null())
	if text, _ := v.AsText(); text != "https://x.example" {
		t.Errorf("got %q, want the variable value", text)
	}
	if len(warnings) != 0 {
		t.Errorf("got %d warnings, want none", len(warnings))
	}
}

func TestVarStepUndefined(t *testing.T) {
	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepVar, Var: "nope"}}})
	v, warnings := fe.Extract(context.Background(), "f", NewContext(newTestServices(), nil), Null())
	if !v.IsNull() {
		t.Errorf("got %s, want null", v)
	}
	if len(warnings) != 1 {
		t.Errorf("got %d warnings, want 1", len(warnings))
	}
}

func TestSetVarStepPassesThrough(t *testing.T) {
	svc := newTestServices()
	ctx := NewContext(svc, nil)
	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepSetVar, SetVar: "saved"}}})

	v, _ := fe.Extract(context.Background(), "f", ctx, String("kept"))
	if text, _ := v.AsText(); text != "kept" {
		t.Errorf("got %q, want the input passed through", text)
	}
	if saved, _ := ctx.Get("saved"); saved != "kept" {
		t.Errorf("context has %v, want kept", saved)
	}
}

func TestIndexStep(t *testing.T) {
	arr := Array([]Value{String("a"), String("b"), String("c"), String("d")})

	pos := func(i int) Step { return Step{Kind: StepIndex, Index: &IndexParams{Pos: &i}} }

	v, _ := runStep(t, newTestServices(), pos(1), arr)
	if text, _ := v.AsText(); text != "b" {
		t.Errorf("index 1 = %q, want b", text)
	}
	v, _ = runStep(t, newTestServices(), pos(-1), arr)
	if text, _ := v.AsText(); text != "d" {
		t.Errorf("index -1 = %q, want d", text)
	}
	v, _ = runStep(t, newTestServices(), pos(9), arr)
	if !v.IsNull() {
		t.Errorf("out-of-range index = %s, want null", v)
	}

	v, _ = runStep(t, newTestServices(), Step{Kind: StepIndex, Index: &IndexParams{Slice: "1:3"}}, arr)
	want := Array([]Value{String("b"), String("c")})
	if !v.Equal(want) {
		t.Errorf("slice 1:3 = %s, want %s", v, want)
	}
}

func TestAttrStepHTML(t *testing.T) {
	in := HTML(`<a class="link" href="/title/42">go</a>`)
	v, _ := runStep(t, newTestServices(), Step{Kind: StepAttr, Attr: "href"}, in)
	if text, _ := v.AsText(); text != "/title/42" {
		t.Errorf("got %q, want /title/42", text)
	}
	v, _ = runStep(t, newTestServices(), Step{Kind: StepAttr, Attr: "missing"}, in)
	if !v.IsNull() {
		t.Errorf("missing attribute = %s, want null", v)
	}
}

func TestAttrStepJSON(t *testing.T) {
	in := JSON(map[string]any{"href": "/x"})
	v, _ := runStep(t, newTestServices(), Step{Kind: StepAttr, Attr: "href"}, in)
	if text, _ := v.AsText(); text != "/x" {
		t.Errorf("got %q, want /x", text)
	}
}

func TestMapStep(t *testing.T) {
	svc := newTestServices()
	step := Step{Kind: StepMap, Map: []Step{{Kind: StepAttr, Attr: "href"}}}
	in := Array([]Value{
		JSON(map[string]any{"href": "/a"}),
		JSON(map[string]any{"href": "/b"}),
	})
	v, _ := runStep(t, svc, step, in)
	want := Array([]Value{String("/a"), String("/b")})
	if !v.Equal(want) {
		t.Errorf("got %s, want %s", v, want)
	}
}

func TestScriptStep(t *testing.T) {
	svc := newTestServices()
	svc.RegisterScriptEngine(&fakeEngine{name: "fake", run: func(input any) (any, error) {
		return map[string]any{"wrapped": input}, nil
	}})
	step := Step{Kind: StepScript, Script: &ScriptConfig{Engine: "fake", Source: "x"}}

	v, _ := runStep(t, svc, step, String("payload"))
	m, ok := v.AsJSON().(map[string]any)
	if !ok || m["wrapped"] != "payload" {
		t.Errorf("got %s, want the script output", v)
	}
}

func TestCacheSetFailureIsSoft(t *testing.T) {
	svc := newTestServices()
	cache := newFakeCache()
	cache.failSet = true
	svc.Cache = cache

	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{
		{Kind: StepCacheSet, CacheKey: "k", CacheTTL: time.Minute},
	}})

	v, warnings := fe.Extract(context.Background(), "f", NewContext(svc, nil), String("survives"))
	if text, _ := v.AsText(); text != "survives" {
		t.Errorf("got %q, want the value to pass through the failed write", text)
	}
	if len(warnings) != 1 {
		t.Fatalf("got %d warnings, want 1", len(warnings))
	}
}

func TestCacheGetReadFailureIsMiss(t *testing.T) {
	svc := newTestServices()
	cache := newFakeCache()
	cache.failGet = true
	svc.Cache = cache

	fe := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepCacheGet, CacheKey: "k"}}, Nullable: true})
	v, warnings := fe.Extract(context.Background(), "f", NewContext(svc, nil), Null())
	if !v.IsNull() {
		t.Errorf("got %s, want null on a failing read", v)
	}
	if len(warnings) != 0 {
		t.Errorf("got %d warnings, want none", len(warnings))
	}
}

func TestCacheSetThenGet(t *testing.T) {
	svc := newTestServices()
	svc.Cache = newFakeCache()
	ctx := NewContext(svc, nil)

	set := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepCacheSet, CacheKey: "doc"}}})
	if v, _ := set.Extract(context.Background(), "f", ctx, String("cached text")); v.IsNull() {
		t.Fatal("cache_set swallowed the value")
	}

	get := compileExtractor(t, &FieldExtractor{Steps: []Step{{Kind: StepCacheGet, CacheKey: "doc"}}})
	v, _ := get.Extract(context.Background(), "f", ctx, Null())
	if text, _ := v.AsText(); text != "cached text" {
		t.Errorf("got %q, want the cached value", text)
	}
}

func TestRegexStep(t *testing.T) {
	svc := newTestServices()
	svc.Selectors[SelectorRegex] = &fakeSelector{handlers: map[string]func(Value) ([]Value, error){
		`ch-(\d+)`: func(doc Value) ([]Value, error) {
			return []Value{
				Array([]Value{String("ch-12"), String("12")}),
				Array([]Value{String("ch-34"), String("34")}),
			}, nil
		},
	}}

	step := Step{Kind: StepRegex, Regex: &RegexParams{Pattern: `ch-(\d+)`, Group: 1}}
	v, _ := runStep(t, svc, step, String("ch-12 ch-34"))
	if text, _ := v.AsText(); text != "12" {
		t.Errorf("got %q, want the first group match", text)
	}

	step.Regex.Global = true
	v, _ = runStep(t, svc, step, String("ch-12 ch-34"))
	want := Array([]Value{String("12"), String("34")})
	if !v.Equal(want) {
		t.Errorf("global: got %s, want %s", v, want)
	}
}
