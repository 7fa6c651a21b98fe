package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/infer"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/server"
	"github.com/ayusman/mudra/internal/store"
)

func main() {
	var (
		addr      = flag.String("addr", ":8080", "http listen address")
		cameraID  = flag.Int("camera", 0, "capture device id")
		modelDir  = flag.String("models", "", "model directory (default ~/.mudra/models)")
		logLevel  = flag.String("log-level", "info", "log level")
		live      = flag.Bool("live", false, "run the live camera pipeline")
		gestures  = flag.Bool("gestures", false, "classify gestures on detected hands")
		poolSize  = flag.Int("pool", 2, "landmark interpreter pool size")
		accel     = flag.Bool("accel", false, "try the inference accelerator, fall back to CPU")
		staticDir = flag.String("static", "", "static web directory")
	)
	flag.Parse()

	dataDir, err := ensureDataDir()
	if err != nil {
		logging.New(logging.Options{Level: *logLevel}).Fatalf("data directory: %v", err)
	}
	log := logging.New(logging.Options{Level: *logLevel, Dir: filepath.Join(dataDir, "logs")})

	st, err := store.New(filepath.Join(dataDir, "mudra.db"))
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()

	models := *modelDir
	if models == "" {
		models = filepath.Join(dataDir, "models")
	}

	cfg := detector.DefaultConfig()
	cfg.PoolSize = *poolSize
	cfg.EnableGestures = *gestures
	cfg.PalmModelPath = filepath.Join(models, "palm_detection.onnx")
	cfg.LandmarkModelPath = filepath.Join(models, "hand_landmark.onnx")
	cfg.EmbedderModelPath = filepath.Join(models, "gesture_embedder.onnx")
	cfg.ClassifierModelPath = filepath.Join(models, "gesture_classifier.onnx")
	if *accel {
		cfg.Acceleration = infer.AccelEnabled
	}

	det, err := detector.New(cfg)
	if err != nil {
		log.Fatalf("build detector: %v", err)
	}
	defer det.Dispose()

	srvCfg := server.Config{
		StaticDir: *staticDir,
		Store:     st,
		Detector:  det,
	}

	if *live {
		pipeline := app.New(app.Config{CameraID: *cameraID, Store: st}, det)
		if err := pipeline.Start(); err != nil {
			log.Fatalf("start live pipeline: %v", err)
		}
		defer pipeline.Stop()

		srvCfg.Source = pipeline.Source()
		srvCfg.Live = det
	}

	srv := server.New(srvCfg)
	if err := srv.ListenAndServe(*addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

// ensureDataDir creates and returns ~/.mudra.
func ensureDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".mudra")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
