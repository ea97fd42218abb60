// ddssrv exposes one or more FlexDDS-NG racks over HTTP.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/theckman/yacspin"
	yml "gopkg.in/yaml.v2"

	"github.com/atomlab/dds/flexdds"
	"github.com/atomlab/dds/generichttp"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "ddssrv.yml"
	k              = koanf.New(".")
)

// RackSetup holds the connection and policy parameters for one rack.
type RackSetup struct {
	// Addr is the rack's hostname or IP; the per-slot command ports are
	// derived from it
	Addr string `yaml:"Addr"`

	// URL is the path this rack's routes are served under, e.g. /omc/dds
	URL string `yaml:"URL"`

	// MaxAmp is the calibrated full scale output in dBm, recorded for
	// operator reference
	MaxAmp float64 `yaml:"MaxAmp"`

	// RAMCapacity overrides the playback sample ceiling when nonzero
	RAMCapacity int `yaml:"RAMCapacity"`

	// Strict turns quantization warnings into request errors
	Strict bool `yaml:"Strict"`
}

// Config holds the initialization parameters for the server.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	// Racks is the list of racks to connect
	Racks []RackSetup `yaml:"Racks"`
}

func setupconfig() {
	k.Load(structs.Provider(Config{
		Addr:  ":8000",
		Racks: []RackSetup{}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `ddssrv communicates with FlexDDS-NG racks and exposes an HTTP interface to them.
This enables a server-client architecture, and the clients can leverage the
excellent HTTP libraries for any programming language.

Usage:
	ddssrv <command>

Commands:
	run
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `ddssrv is amenable to configuration via its .yaml file.  For a primer on YAML,
see https://yaml.org/start.html

Without a configuration, the server will close immediately with an error that
there are no racks.

No two racks can have the same URL.  Each rack's twelve channels (six slots,
two channels each) are addressed in request bodies by slot and channel number.

Before trusting absolute output power, calibrate each slot with the front
panel trimmer against a spectrum analyzer and record the result in MaxAmp.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func pversion() {
	fmt.Printf("ddssrv version %v\n", Version)
}

// sanitizeURL turns "omc/dds" into "/omc/dds" for mounting.
func sanitizeURL(s string) string {
	if !strings.HasPrefix(s, "/") {
		s = "/" + s
	}
	return strings.TrimSuffix(s, "/")
}

func spinner(msg string) *yacspin.Spinner {
	cfg := yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " " + msg,
		StopCharacter:   "ok",
		StopColors:      []string{"fgGreen"},
		SuffixAutoColon: true,
	}
	s, err := yacspin.New(cfg)
	if err != nil {
		log.Fatal(err)
	}
	return s
}

// buildMux connects every configured rack and mounts its routes.
func buildMux(c Config) chi.Router {
	rootR := chi.NewRouter()
	rootR.Use(middleware.Logger)
	if len(c.Racks) == 0 {
		log.Fatal("no racks configured; run mkconf and edit " + ConfigFileName)
	}
	seen := map[string]bool{}
	for _, rack := range c.Racks {
		url := sanitizeURL(rack.URL)
		if seen[url] {
			log.Fatalf("duplicate rack URL %s", url)
		}
		seen[url] = true

		spin := spinner("connecting to rack at " + rack.Addr)
		spin.Start()
		client, err := flexdds.Dial(rack.Addr)
		if err != nil {
			spin.StopFail()
			log.Fatalf("connecting to rack at %s: %v", rack.Addr, err)
		}
		spin.Stop()
		client.MaxAmp = rack.MaxAmp
		client.Strict = rack.Strict
		if rack.RAMCapacity > 0 {
			client.RAMCapacity = rack.RAMCapacity
		}

		var httper generichttp.HTTPer = flexdds.NewHTTPWrapper(client)
		sub := chi.NewRouter()
		httper.RT().Bind(sub)
		rootR.Mount(url, sub)
		for _, ep := range httper.RT().Endpoints() {
			log.Printf("%s %s", url, ep)
		}
	}
	return rootR
}

func run() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	mux := buildMux(c)
	log.Println("now listening for requests at ", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, mux))
}

func main() {
	args := os.Args
	if len(args) == 1 {
		root()
		return
	}
	setupconfig()
	cmd := strings.ToLower(args[1])
	switch cmd {
	case "help":
		help()
		return
	case "mkconf":
		mkconf()
		return
	case "conf":
		printconf()
		return
	case "run":
		run()
		return
	case "version":
		pversion()
		return
	default:
		log.Fatal("unknown command")
	}
}
