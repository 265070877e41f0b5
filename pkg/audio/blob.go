package audio

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// Blob is the wire representation of one audio frame: base64 PCM16 tagged
// with a MIME-style descriptor such as "audio/pcm;rate=16000".
type Blob struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// PCMMIMEType returns the MIME descriptor for mono PCM16 at rate Hz.
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodeBlob base64-encodes a frame into a [Blob].
func EncodeBlob(frame AudioFrame) Blob {
	return Blob{
		Data:     base64.StdEncoding.EncodeToString(frame.Data),
		MIMEType: PCMMIMEType(frame.SampleRate),
	}
}

// DecodeBlob reverses [EncodeBlob]. The sample rate is taken from the MIME
// descriptor; when it carries none, fallbackRate is used.
func DecodeBlob(b Blob, fallbackRate int) (AudioFrame, error) {
	pcm, err := DecodeBase64PCM(b.Data)
	if err != nil {
		return AudioFrame{}, err
	}
	rate, ok := ParseRate(b.MIMEType)
	if !ok {
		rate = fallbackRate
	}
	return AudioFrame{Data: pcm, SampleRate: rate, Channels: 1}, nil
}

// DecodeBase64PCM decodes base64 text into PCM16 bytes and checks that the
// result holds a whole number of samples.
func DecodeBase64PCM(data string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	if len(pcm)%2 != 0 {
		return nil, ErrOddLength
	}
	return pcm, nil
}

// ParseRate extracts the rate parameter from a descriptor like
// "audio/pcm;rate=24000". It reports false when no valid rate is present.
func ParseRate(mimeType string) (int, bool) {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(value)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}
