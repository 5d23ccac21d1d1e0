// ABOUTME: Package playback plays PCM audio through an output device
// ABOUTME: Stream sessions feed chunks from a source, static sessions load one payload
// Package playback provides streaming and static playback sessions.
//
// A StreamSession reads a source chunk by chunk on its own goroutine and
// writes each chunk to the device while it plays. A StaticSession loads a
// complete WAV payload into the device and plays it in one go.
//
// Example:
//
//	s, err := playback.StartStream(dev, format, file, playback.StreamOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	<-s.Done()
package playback
