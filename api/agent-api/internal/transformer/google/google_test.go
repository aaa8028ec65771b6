// Copyright (c) 2024-2026 PraxisVoice GmbH
// Author: Jonas Brandt <jonas@praxisvoice.de>
//
// Licensed under GPL-2.0 with PraxisVoice Additional Terms.
// See LICENSE.md or contact sales@praxisvoice.de for commercial usage.

package internal_transformer_google

import (
	"bytes"
	"encoding/binary"
	"testing"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	internal_capability "github.com/praxisvoice/api/agent-api/internal/capability"
)

func TestConfigDefaults(t *testing.T) {
	config := Config{ProjectID: "praxis-test"}.withDefaults()

	assert.Equal(t, "praxis-test", config.ProjectID)
	assert.Equal(t, "global", config.Region)
	assert.Equal(t, DefaultLanguageCode, config.Language)
	assert.Equal(t, DefaultSTTModel, config.STTModel)
	assert.Equal(t, DefaultVoice, config.Voice)
}

func TestClientOptions(t *testing.T) {
	config := Config{
		ProjectID:       "praxis-test",
		APIKey:          "AIzaTest",
		CredentialsJSON: `{"type":"service_account"}`,
	}
	assert.Len(t, config.clientOptions(), 3)

	assert.Len(t, Config{APIKey: "AIzaTest"}.clientOptions(), 1)
	assert.Empty(t, DefaultConfig().clientOptions())
}

func TestSpeechClientOptionsAddRegionalEndpoint(t *testing.T) {
	base := Config{APIKey: "AIzaTest", Region: "global"}
	assert.Len(t, base.speechClientOptions(), len(base.clientOptions()))

	regional := Config{APIKey: "AIzaTest", Region: "europe-west3"}
	assert.Len(t, regional.speechClientOptions(), len(regional.clientOptions())+1)
}

func TestRecognizerPath(t *testing.T) {
	config := Config{ProjectID: "praxis-test"}.withDefaults()
	assert.Equal(t, "projects/praxis-test/locations/global/recognizers/_", config.recognizerPath())

	config.Region = "europe-west3"
	assert.Equal(t, "projects/praxis-test/locations/europe-west3/recognizers/_", config.recognizerPath())
}

func TestRecognitionConfig(t *testing.T) {
	config := Config{ProjectID: "praxis-test"}.withDefaults()

	rc := config.recognitionConfig("de-DE", 16000)
	decoding := rc.GetExplicitDecodingConfig()
	require.NotNil(t, decoding)
	assert.Equal(t, speechpb.ExplicitDecodingConfig_LINEAR16, decoding.GetEncoding())
	assert.Equal(t, int32(16000), decoding.GetSampleRateHertz())
	assert.Equal(t, int32(1), decoding.GetAudioChannelCount())
	assert.True(t, rc.GetFeatures().GetEnableAutomaticPunctuation())
	assert.Equal(t, []string{"de-DE"}, rc.GetLanguageCodes())
	assert.Equal(t, DefaultSTTModel, rc.GetModel())

	hinted := config.recognitionConfig("de-CH", 8000)
	assert.Equal(t, []string{"de-CH"}, hinted.GetLanguageCodes())
	assert.Equal(t, int32(8000), hinted.GetExplicitDecodingConfig().GetSampleRateHertz())
}

func TestSynthesisRequestDefaults(t *testing.T) {
	config := Config{ProjectID: "praxis-test"}.withDefaults()

	req := config.synthesisRequest("Guten Tag, Praxis Dr. Weber.", internal_capability.SynthesisOptions{})
	assert.Equal(t, "Guten Tag, Praxis Dr. Weber.", req.GetInput().GetText())
	assert.Equal(t, DefaultVoice, req.GetVoice().GetName())
	assert.Equal(t, "de-DE", req.GetVoice().GetLanguageCode())
	assert.Equal(t, texttospeechpb.AudioEncoding_LINEAR16, req.GetAudioConfig().GetAudioEncoding())
	assert.Equal(t, int32(16000), req.GetAudioConfig().GetSampleRateHertz())
}

func TestSynthesisRequestOverrides(t *testing.T) {
	config := Config{ProjectID: "praxis-test"}.withDefaults()

	req := config.synthesisRequest("Bonjour.", internal_capability.SynthesisOptions{Voice: "fr-FR-Neural2-A"})
	assert.Equal(t, "fr-FR-Neural2-A", req.GetVoice().GetName())
	assert.Equal(t, "fr-FR", req.GetVoice().GetLanguageCode())

	req = config.synthesisRequest("Hallo.", internal_capability.SynthesisOptions{
		Voice:    "praxis-custom-voice",
		Language: "de-AT",
	})
	assert.Equal(t, "praxis-custom-voice", req.GetVoice().GetName())
	assert.Equal(t, "de-AT", req.GetVoice().GetLanguageCode())
}

func TestLanguageOfVoice(t *testing.T) {
	cases := []struct {
		voice    string
		expected string
	}{
		{"de-DE-Neural2-F", "de-DE"},
		{"en-US-Wavenet-D", "en-US"},
		{"fr-FR-Neural2-A", "fr-FR"},
		{"praxis-custom-voice", "de-DE"},
		{"shortid", "de-DE"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, languageOfVoice(tc.voice, "de-DE"), tc.voice)
	}
}

// ---- wav parsing ----

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}

func writeChunk(b *bytes.Buffer, id string, body []byte) {
	b.WriteString(id)
	size := make([]byte, 4)
	binary.LittleEndian.PutUint32(size, uint32(len(body)))
	b.Write(size)
	b.Write(body)
	if len(body)%2 == 1 {
		b.WriteByte(0)
	}
}

func fmtChunkBody(format, channels, rate, bits int) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint16(body[0:], uint16(format))
	binary.LittleEndian.PutUint16(body[2:], uint16(channels))
	binary.LittleEndian.PutUint32(body[4:], uint32(rate))
	binary.LittleEndian.PutUint32(body[8:], uint32(rate*channels*bits/8))
	binary.LittleEndian.PutUint16(body[12:], uint16(channels*bits/8))
	binary.LittleEndian.PutUint16(body[14:], uint16(bits))
	return body
}

func wavFile(chunks *bytes.Buffer) []byte {
	var out bytes.Buffer
	out.WriteString("RIFF")
	size := make([]byte, 4)
	binary.LittleEndian.PutUint32(size, uint32(4+chunks.Len()))
	out.Write(size)
	out.WriteString("WAVE")
	out.Write(chunks.Bytes())
	return out.Bytes()
}

func TestParseWAVRoundTrip(t *testing.T) {
	samples := []int16{0, 8191, -8192, 32767, -32768, 100}
	var chunks bytes.Buffer
	writeChunk(&chunks, "fmt ", fmtChunkBody(1, 1, 16000, 16))
	writeChunk(&chunks, "data", pcmBytes(samples))

	pcm, rate, err := parseWAV(wavFile(&chunks))
	require.NoError(t, err)
	assert.Equal(t, 16000, rate)
	assert.Equal(t, samples, pcm)
}

func TestParseWAVSkipsUnknownChunks(t *testing.T) {
	samples := []int16{42, -42}
	var chunks bytes.Buffer
	writeChunk(&chunks, "fmt ", fmtChunkBody(1, 1, 24000, 16))
	writeChunk(&chunks, "LIST", []byte("INFOvendor")) // odd-sized, exercises padding
	writeChunk(&chunks, "data", pcmBytes(samples))

	pcm, rate, err := parseWAV(wavFile(&chunks))
	require.NoError(t, err)
	assert.Equal(t, 24000, rate)
	assert.Equal(t, samples, pcm)
}

func TestParseWAVRejectsNonWave(t *testing.T) {
	_, _, err := parseWAV([]byte("OggS but not a wav"))
	assert.ErrorIs(t, err, ErrNotWAV)

	_, _, err = parseWAV([]byte("RIFF"))
	assert.ErrorIs(t, err, ErrNotWAV)
}

func TestParseWAVRejectsUnsupportedLayouts(t *testing.T) {
	var stereo bytes.Buffer
	writeChunk(&stereo, "fmt ", fmtChunkBody(1, 2, 16000, 16))
	writeChunk(&stereo, "data", pcmBytes([]int16{1, 2}))
	_, _, err := parseWAV(wavFile(&stereo))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)

	var eightBit bytes.Buffer
	writeChunk(&eightBit, "fmt ", fmtChunkBody(1, 1, 8000, 8))
	writeChunk(&eightBit, "data", []byte{0x80, 0x80})
	_, _, err = parseWAV(wavFile(&eightBit))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)

	var dataFirst bytes.Buffer
	writeChunk(&dataFirst, "data", pcmBytes([]int16{1}))
	writeChunk(&dataFirst, "fmt ", fmtChunkBody(1, 1, 16000, 16))
	_, _, err = parseWAV(wavFile(&dataFirst))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)
}

func TestParseWAVRejectsTruncatedChunks(t *testing.T) {
	var chunks bytes.Buffer
	writeChunk(&chunks, "fmt ", fmtChunkBody(1, 1, 16000, 16))
	writeChunk(&chunks, "data", pcmBytes([]int16{1, 2, 3, 4}))
	full := wavFile(&chunks)

	_, _, err := parseWAV(full[:len(full)-3])
	assert.ErrorIs(t, err, ErrUnsupportedWAV)

	var headerOnly bytes.Buffer
	writeChunk(&headerOnly, "fmt ", fmtChunkBody(1, 1, 16000, 16))
	_, _, err = parseWAV(wavFile(&headerOnly))
	assert.ErrorIs(t, err, ErrUnsupportedWAV)
}
