// Package player is the audio engine: it streams an MP3 URL to the speaker
// and reports inline ICY titles as they change.
package player

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebovdev/somafm-tui/internal/config"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSampleRate   = beep.SampleRate(44100)
	SpeakerBufferSize   = time.Millisecond * 250
	NetworkReadSize     = 4096
	SampleChannelSize   = 8192
	VolumeCurveExponent = 0.5
	MinVolumeDB         = -10.0
	ReadTimeout         = 5 * time.Second
	MaxICYMetadataSize  = 4080
)

type PlayerState int

const (
	StateIdle PlayerState = iota
	StateBuffering
	StatePlaying
	StatePaused
	StateError
)

func (s PlayerState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateBuffering:
		return "BUFFERING"
	case StatePlaying:
		return "LIVE"
	case StatePaused:
		return "PAUSED"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// StreamInfo contains metadata about the current audio stream.
type StreamInfo struct {
	Format     string
	Bitrate    int
	SampleRate int
}

// HTTPStatusError reports a non-200 response from the stream server.
type HTTPStatusError struct {
	StatusCode int
	Status     string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("stream returned status %d: %s", e.StatusCode, e.Status)
}

// Relies on context cancellation to clean up the spawned read goroutine.
type contextReader struct {
	reader  io.Reader
	ctx     context.Context
	timeout time.Duration
}

func (cr *contextReader) Read(p []byte) (n int, err error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}

	timer := time.NewTimer(cr.timeout)
	defer timer.Stop()

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	go func() {
		n, err := cr.reader.Read(p)
		select {
		case done <- result{n, err}:
		case <-cr.ctx.Done():
		}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-timer.C:
		return 0, fmt.Errorf("read timeout: no data received for %v", cr.timeout)
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	}
}

// stream is the state of one Play call. A new one is created per URL so the
// goroutines of a stopped stream never touch the next one.
type stream struct {
	cancel   context.CancelFunc
	samples  chan [2]float64
	done     chan struct{}
	doneOnce sync.Once
	errCh    chan error
	wg       sync.WaitGroup
}

// Prevents panics from double-close when multiple goroutines signal completion.
func (s *stream) finish() {
	s.doneOnce.Do(func() {
		close(s.done)
	})
}

// Player streams one URL at a time to the speaker.
type Player struct {
	mu            sync.Mutex
	format        beep.Format
	volume        *effects.Volume
	ctrl          *beep.Ctrl
	speakerInit   bool
	volumePercent int
	httpClient    *http.Client
	current       *stream

	stateMu      sync.RWMutex
	state        PlayerState
	streamInfo   StreamInfo
	sessionStart time.Time
	lastError    string
}

func NewPlayer() *Player {
	httpClient := &http.Client{
		Timeout: 0, // No overall timeout, streams are long-lived
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 15 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			DisableCompression:    true,
		},
	}

	return &Player{
		format: beep.Format{
			SampleRate:  DefaultSampleRate,
			NumChannels: 2,
			Precision:   2,
		},
		volumePercent: -1,
		httpClient:    httpClient,
	}
}

func (p *Player) initSpeaker(sampleRate beep.SampleRate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.speakerInit || sampleRate != p.format.SampleRate {
		err := speaker.Init(sampleRate, sampleRate.N(SpeakerBufferSize))
		if err != nil {
			return fmt.Errorf("failed to initialize speaker: %w", err)
		}
		p.format.SampleRate = sampleRate
		p.speakerInit = true
		log.Debug().Msgf("Speaker initialized with sample rate: %d Hz, buffer: %v", sampleRate, SpeakerBufferSize)
	}
	return nil
}

// Play stops any current stream, connects to streamURL and starts audio
// output. It returns once the first MP3 frames are decoded and the speaker is
// running; from then on the stream plays in the background. onTitle is called
// from the network goroutine whenever the inline ICY title changes and must
// not block.
func (p *Player) Play(streamURL string, onTitle func(string)) error {
	p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	s := &stream{
		cancel:  cancel,
		samples: make(chan [2]float64, SampleChannelSize),
		done:    make(chan struct{}),
		errCh:   make(chan error, 1),
	}

	p.mu.Lock()
	p.current = s
	p.mu.Unlock()

	p.setState(StateBuffering)
	p.setStreamInfo(StreamInfo{Format: "MP3", Bitrate: station.BitrateFromURL(streamURL)})

	if err := p.start(ctx, s, streamURL, onTitle); err != nil {
		p.teardown(s)
		p.mu.Lock()
		if p.current == s {
			p.current = nil
		}
		p.mu.Unlock()

		if errors.Is(err, context.Canceled) {
			p.setState(StateIdle)
			return err
		}
		p.setState(StateError)
		p.setLastError("Connection failed")
		return err
	}

	go p.watch(ctx, s)
	return nil
}

func (p *Player) start(ctx context.Context, s *stream, streamURL string, onTitle func(string)) error {
	speaker.Clear()

	log.Debug().Msgf("Connecting to stream: %s", streamURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", fmt.Sprintf("SomaFM-TUI/%s", config.AppVersion))
	req.Header.Set("Icy-MetaData", "1")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch MP3 stream: %w", err)
	}

	log.Debug().Msgf("Stream response status: %d, Content-Type: %s", resp.StatusCode, resp.Header.Get("Content-Type"))

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return &HTTPStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	icyMetaint := parseMetaint(resp.Header.Get("icy-metaint"))
	if icyMetaint > 0 {
		log.Debug().Msgf("ICY metadata interval: %d bytes", icyMetaint)
	}

	pipeReader, pipeWriter := io.Pipe()

	body := &contextReader{
		reader:  resp.Body,
		ctx:     ctx,
		timeout: ReadTimeout,
	}

	s.wg.Add(1)
	go p.readNetworkStream(ctx, s, resp.Body, body, pipeWriter, icyMetaint, onTitle)

	log.Debug().Msg("Decoding MP3 stream...")
	streamer, format, err := mp3.Decode(pipeReader)
	if err != nil {
		pipeReader.Close()
		return fmt.Errorf("failed to decode MP3 stream: %w", err)
	}

	log.Debug().Msgf("Initializing audio output (sample rate: %d Hz)...", format.SampleRate)
	if err := p.initSpeaker(format.SampleRate); err != nil {
		streamer.Close()
		pipeReader.Close()
		return fmt.Errorf("failed to initialize audio output: %w", err)
	}

	s.wg.Add(1)
	go decodeAndBuffer(ctx, s, streamer, pipeReader)

	p.mu.Lock()
	p.format = format
	volumePercent := p.volumePercent
	if volumePercent < 0 {
		volumePercent = config.DefaultVolume
	}

	fadeInSamples := int(format.SampleRate.N(fadeInDuration))
	p.volume = &effects.Volume{
		Streamer: &bufferedStreamerWrapper{
			stream:          s,
			fadeInRemaining: fadeInSamples,
			fadeInTotal:     fadeInSamples,
		},
		Base:   2,
		Volume: percentToExponent(float64(volumePercent)),
		Silent: volumePercent == 0,
	}
	p.ctrl = &beep.Ctrl{
		Streamer: p.volume,
		Paused:   false,
	}
	ctrl := p.ctrl
	p.mu.Unlock()

	speaker.Play(ctrl)

	p.setState(StatePlaying)
	p.startSession()

	p.stateMu.Lock()
	p.streamInfo.SampleRate = int(format.SampleRate)
	p.stateMu.Unlock()

	p.setLastError("")
	log.Debug().Str("url", streamURL).Msg("Playback started")
	return nil
}

// watch records how a running stream ended. Engine-side failures are not
// fatal; the session keeps its state and the UI shows the engine error.
func (p *Player) watch(ctx context.Context, s *stream) {
	var streamErr error
	select {
	case <-ctx.Done():
		return
	case streamErr = <-s.errCh:
	case <-s.done:
	}

	// Stop cancels before it closes done.
	if ctx.Err() != nil {
		return
	}

	if streamErr != nil {
		log.Error().Err(streamErr).Msg("Stream error")
		p.setLastError("Stream error")
	} else {
		log.Warn().Msg("Stream ended unexpectedly")
		p.setLastError("Stream ended")
	}

	p.mu.Lock()
	stillCurrent := p.current == s
	p.mu.Unlock()
	if stillCurrent {
		p.setState(StateError)
	}
}

func (p *Player) teardown(s *stream) {
	s.cancel()
	s.finish()
	s.wg.Wait()
}

func (p *Player) Stop() {
	p.mu.Lock()
	s := p.current
	p.current = nil
	p.ctrl = nil
	p.volume = nil
	p.mu.Unlock()

	if s == nil {
		return
	}

	s.cancel()
	speaker.Clear()
	s.finish()
	s.wg.Wait()

	p.stateMu.Lock()
	p.state = StateIdle
	p.sessionStart = time.Time{}
	p.streamInfo = StreamInfo{}
	p.stateMu.Unlock()

	log.Debug().Msg("Playback stopped")
}

// SetPaused pauses or resumes output of the current stream. It does nothing
// when no stream is playing.
func (p *Player) SetPaused(paused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctrl == nil {
		return
	}

	speaker.Lock()
	p.ctrl.Paused = paused
	speaker.Unlock()

	if paused {
		p.setState(StatePaused)
		log.Debug().Msg("Playback paused")
	} else {
		p.setState(StatePlaying)
		log.Debug().Msg("Playback resumed")
	}
}

func (p *Player) SetVolume(volumePercent int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volumePercent = config.ClampVolume(volumePercent)

	if p.volume == nil {
		log.Debug().Msgf("Volume stored as %d%% (will be applied when playback starts)", p.volumePercent)
		return
	}

	volumeLevel := percentToExponent(float64(p.volumePercent))

	speaker.Lock()
	p.volume.Volume = volumeLevel
	p.volume.Silent = p.volumePercent == 0
	speaker.Unlock()

	log.Debug().Msgf("Volume set to %d%% (%.2f dB)", p.volumePercent, volumeLevel)
}

func percentToExponent(p float64) float64 {
	if p <= 0 {
		return MinVolumeDB
	}
	if p >= 100 {
		return 0
	}

	normalized := p / 100.0
	adjusted := math.Pow(normalized, VolumeCurveExponent)
	return (1.0 - adjusted) * MinVolumeDB
}

func (p *Player) GetState() PlayerState {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.state
}

func (p *Player) setState(state PlayerState) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.state != state {
		log.Debug().Msgf("Player state: %s -> %s", p.state.String(), state.String())
		p.state = state
	}
}

func (p *Player) GetStreamInfo() StreamInfo {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.streamInfo
}

func (p *Player) setStreamInfo(info StreamInfo) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.streamInfo = info
}

// GetBufferHealth returns the decoded sample queue fill level as a percentage (0-100).
func (p *Player) GetBufferHealth() int {
	p.mu.Lock()
	s := p.current
	p.mu.Unlock()

	if s == nil || cap(s.samples) == 0 {
		return 0
	}
	return (len(s.samples) * 100) / cap(s.samples)
}

func (p *Player) GetSessionDuration() time.Duration {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()

	if p.sessionStart.IsZero() {
		return 0
	}
	return time.Since(p.sessionStart)
}

func (p *Player) startSession() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.sessionStart = time.Now()
}

func (p *Player) GetLastError() string {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	return p.lastError
}

func (p *Player) setLastError(err string) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	p.lastError = err
}

func parseMetaint(header string) int {
	n, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (p *Player) readNetworkStream(ctx context.Context, s *stream, respBody io.ReadCloser, bodyReader io.Reader, pipeWriter *io.PipeWriter, icyMetaint int, onTitle func(string)) {
	defer s.wg.Done()
	defer log.Debug().Msg("Network stream reader stopped")
	defer respBody.Close()

	err := copyAudio(ctx, bufio.NewReader(bodyReader), pipeWriter, icyMetaint, titleNotifier(onTitle))
	if err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Error reading audio data from stream")
		pipeWriter.CloseWithError(err)
		s.finish()
		select {
		case s.errCh <- err:
		default:
		}
		return
	}
	pipeWriter.Close()
}

// titleNotifier drops repeats so onTitle only sees changes.
func titleNotifier(onTitle func(string)) func(string) {
	if onTitle == nil {
		return func(string) {}
	}
	last := ""
	return func(title string) {
		if title == last {
			return
		}
		last = title
		log.Debug().Msgf("Now playing: %s", title)
		onTitle(title)
	}
}

// copyAudio moves audio bytes from r to w, stripping the ICY metadata block
// that follows every metaint bytes of audio and reporting its StreamTitle.
// It returns nil on EOF, a closed pipe or cancellation.
func copyAudio(ctx context.Context, r *bufio.Reader, w io.Writer, metaint int, onTitle func(string)) error {
	chunkSize := int64(metaint)
	if chunkSize == 0 {
		chunkSize = NetworkReadSize
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		if _, err := io.CopyN(w, r, chunkSize); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("network read error: %w", err)
		}

		if metaint == 0 {
			continue
		}

		metaLenByte, err := r.ReadByte()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("metadata read error: %w", err)
		}

		metaLen := int(metaLenByte) * 16
		if metaLen == 0 {
			continue
		}
		if metaLen > MaxICYMetadataSize {
			log.Warn().Int("metaLen", metaLen).Msg("ICY metadata too large, skipping")
			if _, err := io.CopyN(io.Discard, r, int64(metaLen)); err != nil && ctx.Err() == nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("metadata content error: %w", err)
			}
			continue
		}

		metaData := make([]byte, metaLen)
		if _, err := io.ReadFull(r, metaData); err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return fmt.Errorf("metadata content error: %w", err)
		}

		if title, ok := parseStreamTitle(string(metaData)); ok {
			onTitle(title)
		}
	}
}

// parseStreamTitle extracts the value of StreamTitle='...'; from an ICY
// metadata block. Blocks are NUL padded.
func parseStreamTitle(meta string) (string, bool) {
	const key = "StreamTitle='"

	start := strings.Index(meta, key)
	if start < 0 {
		return "", false
	}
	start += len(key)

	end := strings.Index(meta[start:], "';")
	if end < 0 {
		rest := strings.TrimRight(meta[start:], "\x00")
		if !strings.HasSuffix(rest, "'") {
			return "", false
		}
		end = len(rest) - 1
	}

	title := strings.TrimSpace(meta[start : start+end])
	if title == "" {
		return "", false
	}
	return title, true
}

func decodeAndBuffer(ctx context.Context, s *stream, streamer beep.StreamSeekCloser, pipeReader *io.PipeReader) {
	defer func() {
		streamer.Close()
		pipeReader.Close()
		close(s.samples)
		s.wg.Done()

		log.Debug().Msg("Decoder and buffer goroutine stopped")

		if ctx.Err() == nil {
			s.finish()
		}
	}()

	decodedSamples := make([][2]float64, 4096)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		n, ok := streamer.Stream(decodedSamples)
		if !ok {
			if err := streamer.Err(); err != nil {
				log.Error().Err(err).Msg("Stream decoding error")
			}
			return
		}

		for i := 0; i < n; i++ {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case s.samples <- decodedSamples[i]:
			}
		}
	}
}

const fadeInDuration = 50 * time.Millisecond

type bufferedStreamerWrapper struct {
	stream          *stream
	fadeInRemaining int
	fadeInTotal     int
	done            bool
}

// Stream reads decoded audio samples into the buffer. Uses non-blocking reads
// so that an empty channel outputs silence instead of blocking the speaker
// mutex, which keeps oto's audio pipeline flowing during network stalls.
func (b *bufferedStreamerWrapper) Stream(samples [][2]float64) (n int, ok bool) {
	s := b.stream
	audioEnd := 0

	if !b.done {
	fill:
		for i := range samples {
			select {
			case <-s.done:
				b.done = true
				break fill
			default:
			}

			select {
			case sample, more := <-s.samples:
				if !more {
					b.done = true
					break fill
				}
				samples[i] = sample
				audioEnd = i + 1
			default:
				break fill
			}
		}
	}

	// When the stream ends mid-batch, discard samples already read; they may
	// be decoded from truncated pipe data.
	if b.done {
		audioEnd = 0
	}

	for i := audioEnd; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}

	if b.fadeInRemaining > 0 {
		for i := 0; i < audioEnd; i++ {
			pos := b.fadeInTotal - b.fadeInRemaining
			scale := float64(pos) / float64(b.fadeInTotal)
			samples[i][0] *= scale
			samples[i][1] *= scale
			b.fadeInRemaining--
			if b.fadeInRemaining <= 0 {
				break
			}
		}
	}

	return len(samples), true
}

func (b *bufferedStreamerWrapper) Err() error {
	return nil
}
