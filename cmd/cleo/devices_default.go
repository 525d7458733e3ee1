//go:build !portaudio

package main

import (
	"errors"

	"github.com/ent0n29/cleo/internal/audio"
)

var errNoAudioBackend = errors.New("built without portaudio; pass --input (and --output) or rebuild with -tags portaudio")

func defaultMicrophone() (audio.Microphone, error) {
	return nil, errNoAudioBackend
}

func defaultSpeaker(int) (audio.Speaker, error) {
	return nil, errNoAudioBackend
}
