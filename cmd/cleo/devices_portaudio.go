//go:build portaudio

package main

import "github.com/ent0n29/cleo/internal/audio"

func defaultMicrophone() (audio.Microphone, error) {
	return audio.PortAudioMicrophone{}, nil
}

func defaultSpeaker(sampleRate int) (audio.Speaker, error) {
	return audio.NewPortAudioSpeaker(sampleRate)
}
