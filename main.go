package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"ruleflow/runtime"
	"ruleflow/runtime/cache"
	"ruleflow/runtime/credential"
	"ruleflow/runtime/fetch"
	"ruleflow/runtime/filter"
	"ruleflow/runtime/script"
	"ruleflow/runtime/selector"
	"ruleflow/runtime/webview"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	services := runtime.NewServices(logger)
	services.Selectors[runtime.SelectorCSS] = selector.NewCSS()
	services.Selectors[runtime.SelectorXPath] = selector.NewXPath()
	services.Selectors[runtime.SelectorJSON] = selector.NewJSONPath()
	services.Selectors[runtime.SelectorRegex] = selector.NewRegex()
	filter.RegisterBuiltins(services.Filters)

	creds := credential.NewManager()
	services.Credentials = creds
	services.Fetch = fetch.NewClient(fetch.Options{RateLimit: 4, Retries: 2}, creds, logger)
	services.WebView = webview.NewNoop()

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		store, err := cache.NewRedis(addr, "ruleflow")
		if err != nil {
			log.Fatalf("Error connecting to redis: %v", err)
		}
		services.Cache = store
	} else {
		services.Cache = cache.NewMemory()
	}

	rulesDir := os.Getenv("RULES_DIR")
	if rulesDir == "" {
		rulesDir = "rules"
	}
	app, err := runtime.NewApp(rulesDir, services)
	if err != nil {
		log.Fatalf("Error initializing app: %v", err)
	}

	constructors := script.Constructors()
	for _, name := range app.RuleNames() {
		rt, _ := app.Runtime(name)
		if err := services.BuildScriptEngines(rt.Rule().RequiredScriptEngines(), constructors); err != nil {
			log.Fatalf("Error building script engines for rule %s: %v", name, err)
		}
	}

	g := gin.Default()
	runtime.NewHttpHandler(app, g)

	server, err := runtime.NewServerConfig(os.Getenv("LISTEN_ADDR"))
	if err != nil {
		log.Fatalf("Error in server config: %v", err)
	}
	if err := g.Run(server.Listen); err != nil {
		log.Fatalf("Error running server: %v", err)
	}
}
