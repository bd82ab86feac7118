// Прогон MP3 записи через сегментатор и, при указании -provider, через
// провайдера распознавания.
// Запуск: go run ./cmd/testreplay -file speech.mp3 -provider deepgram
// Ключ берётся из переменной окружения провайдера (DEEPGRAM_API_KEY и т.д.)

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxstream/audio"
	"voxstream/internal/service"
	"voxstream/internal/usage"
	"voxstream/provider"
	"voxstream/session"
)

func main() {
	file := flag.String("file", "", "MP3 file to replay")
	providerID := flag.String("provider", "", "Provider to stream to (segmentation only if empty)")
	vad := flag.String("vad", "strict", "VAD mode: strict, lenient, off")
	realtime := flag.Bool("realtime", true, "Replay at real-time pace")
	language := flag.String("language", "en", "Language hint")
	flag.Parse()

	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *file == "" {
		flag.Usage()
		os.Exit(2)
	}
	mode, err := session.ParseVADMode(*vad)
	if err != nil {
		logrus.WithError(err).Fatal("invalid vad mode")
	}

	var adapter provider.Adapter
	rate := audio.DefaultSampleRate
	settings := provider.Settings{Language: *language}
	if *providerID != "" {
		if !provider.Known(*providerID) {
			logrus.Fatalf("unknown provider %q", *providerID)
		}
		adapter = provider.New(*providerID)
		settings.APIKey = os.Getenv(provider.APIKeyEnv(adapter.ID()))
		rate = adapter.ConnectionConfig(settings).SampleRate
	}

	src, err := audio.OpenMP3(*file, 20, *realtime)
	if err != nil {
		logrus.WithError(err).Fatal("failed to open file")
	}

	providerName := "none"
	if adapter != nil {
		providerName = adapter.ID()
	}
	recorder := usage.NewRecorder(nil)
	us := recorder.StartSession(providerName)

	processor := session.NewProcessor(session.ProcessorConfig{
		InputRate:  src.SampleRate(),
		TargetRate: rate,
		Mode:       mode,
		Usage:      us,
	})
	processor.OnAction = func(act session.Action) {
		switch {
		case act.Started:
			logrus.Info("speech started")
		case act.Commit:
			logrus.WithField("voiced_ms", int(act.VoicedMs)).Info("commit")
		case act.Dropped:
			logrus.WithField("voiced_ms", int(act.VoicedMs)).Info("turn dropped")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = src.Stop()
	}()

	out := make(chan []byte, session.AudioQueueSize)
	src.Start()
	go processor.Run(src.Data(), out)

	started := time.Now()
	if adapter == nil {
		for chunk := range out {
			if !session.IsCommit(chunk) {
				us.AddSent(uint64(len(chunk)), uint64(audio.DurationMs(len(chunk), rate)))
			}
		}
	} else {
		runner := service.NewSessionRunner(service.RunnerConfig{
			Adapter:  adapter,
			Settings: settings,
			Usage:    us,
			OnEvent: func(ev service.Event) {
				switch ev.Type {
				case service.EventTranscriptDelta:
					logrus.WithField("text", ev.Text).Debug("delta")
				case service.EventTranscriptFinal:
					logrus.WithField("text", ev.Text).Info("final")
				case service.EventStatus:
					logrus.WithField("status", ev.Status).Info(ev.Message)
				}
			},
		})
		if err := runner.Run(ctx, out); err != nil {
			logrus.WithError(err).Error("stream ended with error")
		}
	}
	us.End()

	t := us.Totals()
	logrus.WithFields(logrus.Fields{
		"elapsed":       time.Since(started).Round(time.Millisecond),
		"ms_sent":       t.MsSent,
		"ms_suppressed": t.MsSuppressed,
		"commits":       processor.Commits(),
		"finals":        t.Finals,
	}).Info("replay finished")
}
