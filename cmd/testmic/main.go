// Живая отладка детектора речи на микрофоне
// Запуск: go run ./cmd/testmic -vad strict
// Остановка: Ctrl+C

package main

import (
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxstream/ai"
	"voxstream/audio"
	"voxstream/session"
)

func main() {
	device := flag.String("device", "", "Capture device name (default device if empty)")
	rate := flag.Int("rate", audio.DefaultSampleRate, "Target sample rate")
	vad := flag.String("vad", "strict", "VAD mode: strict, lenient, off")
	model := flag.String("silero", "", "Path to silero_vad.onnx (energy classifier if empty)")
	record := flag.String("record", "", "Directory for per-utterance MP3 dumps")
	format := flag.String("format", session.FormatMP3, "Utterance dump format: mp3, wav")
	list := flag.Bool("list", false, "List capture devices and exit")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *list {
		devices, err := audio.ListDevices()
		if err != nil {
			logrus.WithError(err).Fatal("failed to list devices")
		}
		for _, d := range devices {
			logrus.WithFields(logrus.Fields{"id": d.ID, "default": d.IsDefault}).Info(d.Name)
		}
		return
	}

	mode, err := session.ParseVADMode(*vad)
	if err != nil {
		logrus.WithError(err).Fatal("invalid vad mode")
	}

	var classifier session.Classifier = session.NewEnergyClassifier()
	if *model != "" {
		c, err := ai.NewSileroClassifier(ai.SileroConfig{ModelPath: *model})
		if err != nil {
			logrus.WithError(err).Fatal("failed to load silero vad")
		}
		defer c.Close()
		classifier = c
	}

	var recorder *session.UtteranceRecorder
	if *record != "" {
		recorder, err = session.NewUtteranceRecorder(*record, *rate, *format)
		if err != nil {
			logrus.WithError(err).Fatal("failed to create recorder")
		}
	}

	capture, err := audio.StartCapture(*device, *rate)
	if err != nil {
		logrus.WithError(err).Fatal("failed to start capture")
	}
	logrus.WithFields(logrus.Fields{
		"device":   capture.Format().DeviceName,
		"rate":     capture.SampleRate(),
		"target":   *rate,
		"vad_mode": mode.String(),
	}).Info("capture started, press Ctrl+C to stop")

	processor := session.NewProcessor(session.ProcessorConfig{
		InputRate:  capture.SampleRate(),
		TargetRate: *rate,
		Mode:       mode,
		Classifier: classifier,
		Recorder:   recorder,
	})

	var peak float32
	lastLevel := time.Now()
	processor.OnLevels = func(bars [audio.BarCount]float32) {
		for _, b := range bars {
			if b > peak {
				peak = b
			}
		}
		if time.Since(lastLevel) >= time.Second {
			n := int(peak * 40)
			if n > 40 {
				n = 40
			}
			logrus.Infof("level %-40s %.2f", strings.Repeat("#", n), peak)
			peak = 0
			lastLevel = time.Now()
		}
	}
	var turnStart time.Time
	processor.OnAction = func(act session.Action) {
		switch {
		case act.Started:
			turnStart = time.Now()
			logrus.Info("speech started")
		case act.Commit:
			logrus.WithFields(logrus.Fields{
				"voiced_ms": int(act.VoicedMs),
				"wall":      time.Since(turnStart).Round(10 * time.Millisecond),
			}).Info("commit")
		case act.Dropped:
			logrus.WithField("voiced_ms", int(act.VoicedMs)).Info("turn dropped: too short")
		}
	}

	out := make(chan []byte, session.AudioQueueSize)
	go processor.Run(capture.Data(), out)

	var sentBytes int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range out {
			sentBytes += len(chunk)
		}
	}()

	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stopChan:
	case err := <-capture.Lost():
		logrus.WithError(err).Warn("audio input lost")
	}

	_ = capture.Stop()
	<-done
	logrus.WithFields(logrus.Fields{
		"forwarded_ms":  int(audio.DurationMs(sentBytes, *rate)),
		"commits":       processor.Commits(),
		"dropped":       processor.Dropped(),
		"capture_drops": capture.Dropped(),
	}).Info("stopped")
}
