// Package google provides a Google Cloud Speech-to-Text engine adapter.
package google

import (
	"context"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"stt-consolidation-service/internal/engine"
)

// Config holds Google STT streaming configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	InterimResults bool
	AudioEncoding  string
	Punctuation    bool
}

// DefaultConfig returns sensible streaming defaults for PCM16 mono input.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// Adapter implements engine.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	id     string
	client *speech.Client
	cfg    Config

	mu     sync.Mutex
	stream speechpb.Speech_StreamingRecognizeClient
	cb     engine.Callback
}

// New creates a new Google STT adapter. Requires the
// GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, id string) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, classify(id, err)
	}
	return &Adapter{id: id, client: c, cfg: DefaultConfig()}, nil
}

// Configure applies session options onto the streaming config.
func (a *Adapter) Configure(opts engine.Options) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if opts.Language != "" {
		a.cfg.LanguageCode = opts.Language
	}
	if opts.SampleRateHz > 0 {
		a.cfg.SampleRateHz = opts.SampleRateHz
	}
	a.cfg.Punctuation = opts.Punctuation
	return nil
}

// Start begins a streaming recognition session and sends the initial config.
// Word-level confidences are requested so consolidation can arbitrate at
// word granularity.
func (a *Adapter) Start(ctx context.Context, cb engine.Callback) error {
	stream, err := a.client.StreamingRecognize(ctx)
	if err != nil {
		return classify(a.id, err)
	}
	a.mu.Lock()
	a.stream = stream
	a.cb = cb
	cfg := a.cfg
	a.mu.Unlock()

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   parseAudioEncoding(cfg.AudioEncoding),
					SampleRateHertz:            int32(cfg.SampleRateHz),
					LanguageCode:               cfg.LanguageCode,
					EnableWordConfidence:       true,
					EnableWordTimeOffsets:      true,
					EnableAutomaticPunctuation: cfg.Punctuation,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	})
	if err != nil {
		return classify(a.id, err)
	}

	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(_ context.Context, audio []byte) error {
	a.mu.Lock()
	stream := a.stream
	a.mu.Unlock()
	if stream == nil {
		return engine.NewError(a.id, engine.KindUnavailable, nil)
	}
	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	}); err != nil {
		return classify(a.id, err)
	}
	return nil
}

// Close ends the streaming session.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stream := a.stream
	a.stream = nil
	a.mu.Unlock()
	if stream != nil {
		return stream.CloseSend()
	}
	return nil
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(stream speechpb.Speech_StreamingRecognizeClient, cb engine.Callback) {
	for {
		resp, err := stream.Recv()
		if err != nil {
			cb.OnError(classify(a.id, err))
			return
		}
		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			res := engine.Result{
				EngineID:   a.id,
				Text:       alt.Transcript,
				Confidence: float64(alt.Confidence),
				Final:      r.IsFinal,
			}
			if r.IsFinal {
				res.Words = convertWords(alt)
				cb.OnFinal(res)
			} else {
				cb.OnInterim(res)
			}
		}
	}
}

func convertWords(alt *speechpb.SpeechRecognitionAlternative) []engine.WordResult {
	if len(alt.Words) == 0 {
		// No word info: fall back to whitespace tokens carrying the
		// alternative's overall confidence.
		var words []engine.WordResult
		for _, w := range strings.Fields(alt.Transcript) {
			words = append(words, engine.WordResult{Text: w, Confidence: float64(alt.Confidence)})
		}
		return words
	}
	words := make([]engine.WordResult, 0, len(alt.Words))
	for _, wi := range alt.Words {
		words = append(words, engine.WordResult{
			Text:       wi.Word,
			Confidence: float64(wi.Confidence),
			StartMs:    wi.StartTime.AsDuration().Milliseconds(),
			EndMs:      wi.EndTime.AsDuration().Milliseconds(),
		})
	}
	return words
}

// classify maps gRPC status codes onto engine failure kinds.
func classify(id string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return engine.NewError(id, engine.KindUnavailable, err)
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return engine.NewError(id, engine.KindTimeout, err)
	case codes.Unauthenticated, codes.PermissionDenied:
		return engine.NewError(id, engine.KindAuthFailure, err)
	case codes.ResourceExhausted:
		return engine.NewError(id, engine.KindRateLimited, err)
	default:
		return engine.NewError(id, engine.KindUnavailable, err)
	}
}

func parseAudioEncoding(s string) speechpb.RecognitionConfig_AudioEncoding {
	switch s {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
