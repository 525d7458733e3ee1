package audio

import (
	"encoding/base64"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type recordingSpeaker struct {
	mu     sync.Mutex
	writes [][]int16
	closeN int
}

func (s *recordingSpeaker) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, samples)
	return nil
}

func (s *recordingSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeN++
	return nil
}

func (s *recordingSpeaker) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestPlaybackRendersInOrder(t *testing.T) {
	sp := &recordingSpeaker{}
	p := NewPlayback(sp, 24000, nil)

	require.NoError(t, p.EnqueueBase64(base64.StdEncoding.EncodeToString(PCM16Bytes([]int16{1, 2}))))
	require.NoError(t, p.EnqueueBase64(base64.StdEncoding.EncodeToString(PCM16Bytes([]int16{3, 4}))))
	require.Eventually(t, func() bool { return sp.count() == 2 }, time.Second, time.Millisecond)

	sp.mu.Lock()
	require.Equal(t, [][]int16{{1, 2}, {3, 4}}, sp.writes)
	sp.mu.Unlock()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	require.Equal(t, 1, sp.closeN)
	require.ErrorIs(t, p.Enqueue([]int16{5}), ErrPlaybackClosed)
}

func TestPlaybackMalformedFragmentDoesNotStopQueue(t *testing.T) {
	sp := &recordingSpeaker{}
	p := NewPlayback(sp, 24000, nil)
	defer p.Close()

	require.Error(t, p.EnqueueBase64("!!!"))
	require.Error(t, p.EnqueueBase64(base64.StdEncoding.EncodeToString([]byte{1, 2, 3})))
	require.NoError(t, p.EnqueueBase64(base64.StdEncoding.EncodeToString(PCM16Bytes([]int16{7}))))
	require.Eventually(t, func() bool { return sp.count() == 1 }, time.Second, time.Millisecond)
}

func TestPlaybackDecodesWAVBlob(t *testing.T) {
	sp := &recordingSpeaker{}
	p := NewPlayback(sp, 16000, nil)
	defer p.Close()

	blob, err := EncodeWAVPCM16LE(PCM16Bytes([]int16{9, 8, 7}), 16000)
	require.NoError(t, err)
	require.NoError(t, p.EnqueueBase64(base64.StdEncoding.EncodeToString(blob)))
	require.Eventually(t, func() bool { return sp.count() == 1 }, time.Second, time.Millisecond)
}
