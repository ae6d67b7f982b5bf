package main

import (
	"context"
	"flag"
	"io/ioutil"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/CodedInternet/gocopis/comms"
	"github.com/CodedInternet/gocopis/onboard"
	"github.com/CodedInternet/gocopis/onboard/capture"
	"github.com/CodedInternet/gocopis/onboard/serialbus"
	"github.com/CodedInternet/gocopis/onboard/store"
	"github.com/caarlos0/env/v6"
	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

type EnvConfig struct {
	JWT_ISSUER   string        `env:"COPIS_DEVICE_UUID" envDefault:"DEV"`
	JWT_SECRET   string        `env:"COPIS_JWT_SECRET"`
	JWT_LIFESPAN time.Duration `env:"COPIS_JWT_LIFESPAN" envDefault:"1h"`
	DEBUG        bool          `env:"DEBUG" envDefault:"0"`
	DEV          bool          `env:"COPIS_DEV" envDefault:"0"`
	LOG_LEVEL    string        `env:"LOG_LEVEL" envDefault:"info"`
	DATADIR      string        `env:"DATADIR" envDefault:"./tmp"`
	CONFIG       string        `env:"COPIS_CONFIG" envDefault:"./copis.yaml"`
	HTMLDIR      string        `env:"HTMLDIR" envDefault:"./frontend/dist/"`
	DB           *store.DB
	Core         *onboard.Core
	Conductor    *comms.Conductor
	Log          *logrus.Logger
	Simulated    bool

	jwtSecret []byte
}

var (
	ENV *EnvConfig
)

func init() {
	// an optional .env sits next to the binary during development
	_ = godotenv.Load()

	ENV = new(EnvConfig)
	if err := env.Parse(ENV); err != nil {
		panic(err)
	}
	ENV.Log = newLogger(ENV.LOG_LEVEL, ENV.DEBUG)
}

func newLogger(level string, debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	if debug {
		lvl = logrus.DebugLevel
	}
	log.SetLevel(lvl)
	return log
}

func main() {
	simulated := flag.Bool("sim", false, "Run against the simulated rig")
	port := flag.String("port", "0.0.0.0:8080", "Specify the ip:port to listen on")
	configFile := flag.String("config", ENV.CONFIG, "Machine configuration file")
	flag.Parse()

	log := ENV.Log

	if flag.Arg(0) == "mkconf" {
		filename := *configFile
		if flag.NArg() > 1 {
			filename = flag.Arg(1)
		}
		if err := writeDefaultConfig(filename); err != nil {
			log.WithError(err).Fatal("unable to write config")
		}
		log.WithField("file", filename).Info("default config written")
		return
	}

	secret, err := signingSecret(ENV.JWT_SECRET, ENV.DEBUG)
	if err != nil {
		log.WithError(err).Fatal("refusing to start without a token secret")
	}
	ENV.jwtSecret = secret

	config, err := onboard.LoadConfig(*configFile)
	if err != nil {
		if !os.IsNotExist(err) || !*simulated {
			log.WithError(err).WithField("file", *configFile).Fatal("unable to load machine config")
		}
		log.WithField("file", *configFile).Warn("no machine config, simulating the default rig")
		config = onboard.DefaultConfig()
	}

	dbFile, _ := filepath.Abs(filepath.Join(ENV.DATADIR, "copis.db"))
	ENV.DB, err = store.Open(dbFile)
	if err != nil {
		log.WithError(err).Fatal("unable to open database")
	}
	defer ENV.DB.Close() // close database when finished

	var transport serialbus.Transport
	var camera capture.Device
	ENV.Simulated = *simulated
	if ENV.Simulated {
		log.Info("creating simulator")
		transport = onboard.NewSimulatedTransport(log)
		camera = onboard.NewSimulatedCamera()
	} else {
		transport = serialbus.NewSerialTransport(log)
	}

	ENV.Core, err = onboard.NewCore(onboard.Options{
		Config:    config,
		Transport: transport,
		Camera:    camera,
		History:   ENV.DB,
		Log:       log,
		Dev:       ENV.DEV || ENV.DEBUG,
	})
	if err != nil {
		log.WithError(err).Fatal("unable to initialise the rig")
	}
	defer ENV.Core.Terminate()

	autoConnect(ENV.Core, config, ENV.Simulated)

	ENV.Conductor = comms.NewConductor(ENV.Core, log)
	defer ENV.Conductor.Close()

	// Start an instance of the shell so it can be controlled from the CLI
	go newShell(ENV.Core).Start()

	srv := &http.Server{Addr: *port, Handler: newRouter()}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	log.WithField("addr", *port).Info("listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Error("server stopped")
	}
}

// autoConnect opens the configured port, or the first simulated one.
func autoConnect(core *onboard.Core, config *onboard.MachineConfig, simulated bool) {
	if err := core.UpdatePorts(); err != nil {
		ENV.Log.WithError(err).Warn("unable to list serial ports")
	}
	name := config.Serial.Port
	if name == "" && simulated {
		if ports := core.Ports(); len(ports) > 0 {
			name = ports[0].Name
		}
	}
	if name == "" {
		return
	}
	if err := core.SelectPort(name); err != nil {
		ENV.Log.WithError(err).WithField("port", name).Warn("configured port unavailable")
		return
	}
	if err := core.Connect(config.Serial.Baud); err != nil {
		ENV.Log.WithError(err).WithField("port", name).Warn("unable to connect")
	}
}

func writeDefaultConfig(filename string) error {
	raw, err := onboard.DefaultConfig().Marshal()
	if err != nil {
		return err
	}
	return ioutil.WriteFile(filename, raw, 0644)
}

func newRouter() chi.Router {
	r := chi.NewRouter()

	// A good base middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.RedirectSlashes)
	r.Use(middleware.Recoverer) // make sure this is last

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", Login)

		r.Group(func(r chi.Router) {
			if !ENV.DEBUG {
				r.Use(ValidateJWT)
			}
			r.Get("/refresh_token", JWTRefresh)
			apiRoutes(r)
		})
	})

	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			// Enable JWT validation in production
			r.Use(ValidateJWT)
		} else {
			ENV.Log.Warn("running in debug mode, authentication disabled")
		}
		r.Get("/events", EventsHandler)
	})

	// add static base routes
	FileServer(r, "/", http.Dir(ENV.HTMLDIR))
	return r
}

// FileServer conveniently sets up a http.FileServer handler to serve
// static files from a http.FileSystem.
func FileServer(r chi.Router, path string, root http.FileSystem) {
	if strings.ContainsAny(path, "{}*") {
		panic("FileServer does not permit URL parameters.")
	}

	fs := http.StripPrefix(path, http.FileServer(root))

	if path != "/" && path[len(path)-1] != '/' {
		r.Get(path, http.RedirectHandler(path+"/", 301).ServeHTTP)
		path += "/"
	}
	path += "*"

	r.Get(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.ServeHTTP(w, r)
	}))
}
