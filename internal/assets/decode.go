package assets

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/wav"
	"gopkg.in/hraban/opus.v2"
)

// ErrUnsupportedFormat is returned for input that is neither RIFF/WAVE nor
// Ogg Opus.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// opusRate is the fixed decode rate of libopusfile.
const opusRate = beep.SampleRate(48000)

const resampleQuality = 4

// Decode sniffs r, decodes it, and returns a stereo buffer at rate.
func Decode(r io.Reader, rate beep.SampleRate) (*beep.Buffer, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: short input", ErrUnsupportedFormat)
		}
		return nil, err
	}

	var (
		s      beep.Streamer
		format beep.Format
	)
	switch {
	case bytes.Equal(magic, []byte("RIFF")):
		ws, f, err := wav.Decode(br)
		if err != nil {
			return nil, fmt.Errorf("decode wav: %w", err)
		}
		defer ws.Close()
		s, format = ws, f
	case bytes.Equal(magic, []byte("OggS")):
		frames, err := decodeOpus(br)
		if err != nil {
			return nil, fmt.Errorf("decode opus: %w", err)
		}
		s = &frameStreamer{frames: frames}
		format = beep.Format{SampleRate: opusRate, NumChannels: 2, Precision: 2}
	default:
		return nil, fmt.Errorf("%w: magic %q", ErrUnsupportedFormat, magic)
	}

	if format.SampleRate != rate {
		s = beep.Resample(resampleQuality, format.SampleRate, rate, s)
	}
	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 4})
	buf.Append(s)
	if err := s.Err(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Ogg page and OpusHead layout, RFC 3533 and RFC 7845.
const (
	oggHeaderLen  = 27
	opusHeadLen   = 19
	maxOpusFrames = 5760 // 120 ms at 48 kHz
)

// opusChannels reads the output channel count from the OpusHead packet that
// opens the first Ogg page, without consuming it.
func opusChannels(br *bufio.Reader) (int, error) {
	hdr, err := br.Peek(oggHeaderLen)
	if err != nil {
		return 0, fmt.Errorf("ogg page header: %w", err)
	}
	page, err := br.Peek(oggHeaderLen + int(hdr[26]) + opusHeadLen)
	if err != nil {
		return 0, fmt.Errorf("opus head: %w", err)
	}
	return parseOpusHead(page)
}

// parseOpusHead returns the channel count of the first page in page, which
// must carry the OpusHead packet.
func parseOpusHead(page []byte) (int, error) {
	if len(page) < oggHeaderLen || !bytes.Equal(page[:4], []byte("OggS")) {
		return 0, fmt.Errorf("%w: not an ogg page", ErrUnsupportedFormat)
	}
	payload := page[min(oggHeaderLen+int(page[26]), len(page)):]
	if len(payload) < opusHeadLen || !bytes.Equal(payload[:8], []byte("OpusHead")) {
		return 0, fmt.Errorf("%w: ogg stream is not opus", ErrUnsupportedFormat)
	}
	ch := int(payload[9])
	if ch == 0 {
		return 0, fmt.Errorf("%w: opus head has no channels", ErrUnsupportedFormat)
	}
	return ch, nil
}

// decodeOpus reads an Ogg Opus stream as 48 kHz stereo frames.
func decodeOpus(br *bufio.Reader) ([][2]float64, error) {
	ch, err := opusChannels(br)
	if err != nil {
		return nil, err
	}
	stream, err := opus.NewStream(br)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var frames [][2]float64
	pcm := make([]int16, maxOpusFrames*ch)
	for {
		n, err := stream.Read(pcm)
		frames = appendInterleaved(frames, pcm[:n*ch], ch)
		if errors.Is(err, io.EOF) {
			return frames, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// appendInterleaved appends interleaved pcm with ch channels as stereo
// frames. Mono is copied to both sides; more than two channels are mixed
// down to mono.
func appendInterleaved(frames [][2]float64, pcm []int16, ch int) [][2]float64 {
	for i := 0; i+ch <= len(pcm); i += ch {
		switch ch {
		case 1:
			v := float64(pcm[i]) / 32768
			frames = append(frames, [2]float64{v, v})
		case 2:
			frames = append(frames, [2]float64{float64(pcm[i]) / 32768, float64(pcm[i+1]) / 32768})
		default:
			sum := 0.0
			for _, v := range pcm[i : i+ch] {
				sum += float64(v)
			}
			v := sum / float64(ch) / 32768
			frames = append(frames, [2]float64{v, v})
		}
	}
	return frames
}

// frameStreamer plays a slice of frames once.
type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (f *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if f.pos >= len(f.frames) {
		return 0, false
	}
	n := copy(samples, f.frames[f.pos:])
	f.pos += n
	return n, true
}

func (f *frameStreamer) Err() error { return nil }
