// Package voicetrigger spots a spoken emergency phrase in the microphone
// stream and raises a voice-kind SOS activation. This is the hands-free
// trigger path for dependents who cannot reach the button.
package voicetrigger

import (
	"context"
	"fmt"
	"io"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"

	"github.com/wardn/wardn/adapters/audio"
)

const (
	defaultSampleRate = 16000
	defaultLanguage   = "en-US"
	streamChunkSize   = 4096
)

var defaultPhrases = []string{"help me", "emergency", "call for help"}

// Config holds configuration for the keyword detector.
// Optional fields with defaults:
// - Phrases: trigger phrases to spot (default "help me", "emergency", "call for help")
// - SampleRate: microphone sample rate in Hz (default 16000)
// - Language: BCP-47 recognition language (default "en-US")
type Config struct {
	Phrases    []string
	SampleRate int
	Language   string
}

// Detector runs streaming recognition over a microphone Source and invokes
// the trigger callback once per recognized phrase.
type Detector struct {
	phrases    []string
	sampleRate int
	language   string
	source     audio.Source
	logger     *zap.Logger
}

// NewDetector creates a keyword detector over the given microphone source.
func NewDetector(config Config, source audio.Source, logger *zap.Logger) *Detector {
	phrases := config.Phrases
	if len(phrases) == 0 {
		phrases = defaultPhrases
		logger.Info("Using default trigger phrases", zap.Strings("phrases", phrases))
	}
	lowered := make([]string, len(phrases))
	for i, phrase := range phrases {
		lowered[i] = strings.ToLower(phrase)
	}

	sampleRate := config.SampleRate
	if sampleRate == 0 {
		sampleRate = defaultSampleRate
	}
	language := config.Language
	if language == "" {
		language = defaultLanguage
	}

	return &Detector{
		phrases:    lowered,
		sampleRate: sampleRate,
		language:   language,
		source:     source,
		logger:     logger,
	}
}

// Run listens until ctx is cancelled. trigger is called once per spotted
// phrase; its error is logged, never fatal to the detector.
func (d *Detector) Run(ctx context.Context, trigger func(context.Context) error) error {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return fmt.Errorf("failed to create speech client: %w", err)
	}
	defer client.Close()

	mic, err := d.source.Open(ctx)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	// Recognition streams are bounded server-side (~5 minutes), so the
	// detector reopens the stream until cancelled.
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := d.listenOnce(ctx, client, mic, trigger); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			d.logger.Warn("recognition stream ended, restarting", zap.Error(err))
		}
	}
}

func (d *Detector) listenOnce(
	ctx context.Context,
	client *speech.Client,
	mic io.Reader,
	trigger func(context.Context) error,
) error {
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		return fmt.Errorf("failed to create streaming recognize: %w", err)
	}

	// Send initial configuration with the trigger phrases boosted.
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(d.sampleRate),
					LanguageCode:    d.language,
					SpeechContexts: []*speechpb.SpeechContext{
						{Phrases: d.phrases},
					},
				},
				InterimResults: false,
			},
		},
	}); err != nil {
		stream.CloseSend()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		defer stream.CloseSend()
		buffer := make([]byte, streamChunkSize)
		for {
			if ctx.Err() != nil {
				sendErr <- ctx.Err()
				return
			}
			n, err := mic.Read(buffer)
			if n > 0 {
				if err := stream.Send(&speechpb.StreamingRecognizeRequest{
					StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
						AudioContent: buffer[:n],
					},
				}); err != nil {
					sendErr <- err
					return
				}
			}
			if err != nil {
				sendErr <- err
				return
			}
		}
	}()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return <-sendErr
		}
		if err != nil {
			return err
		}
		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 {
				continue
			}
			transcript := strings.ToLower(result.Alternatives[0].Transcript)
			if phrase, ok := d.match(transcript); ok {
				d.logger.Info("trigger phrase recognized",
					zap.String("phrase", phrase),
					zap.Float32("confidence", result.Alternatives[0].Confidence))
				if err := trigger(ctx); err != nil {
					d.logger.Warn("voice activation rejected", zap.Error(err))
				}
			}
		}
	}
}

func (d *Detector) match(transcript string) (string, bool) {
	for _, phrase := range d.phrases {
		if strings.Contains(transcript, phrase) {
			return phrase, true
		}
	}
	return "", false
}
