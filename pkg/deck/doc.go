// ABOUTME: High-level pcmdeck library API
// ABOUTME: Provides the Controller that owns at most one recording or playback session
// Package deck drives recording, conversion and playback from one place.
//
// The Controller enforces that only one session holds the audio device at a
// time and reports state changes through callbacks:
//   - StartRecord / StopRecord: capture raw PCM to a file
//   - ConvertPcmToWav: wrap a recording in a WAV container
//   - StartStreamPlay: play a PCM or WAV file chunk by chunk
//   - StartStaticPlay: load a WAV file into memory and play it
//   - StopPlay / Stop: end whatever is playing or running
//
// Example:
//
//	dev, err := device.New("malgo", device.DefaultLatency)
//	ctrl, err := deck.New(deck.Config{
//	    Device: dev,
//	    Format: audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16},
//	})
//	err = ctrl.StartRecord("recordings/recorded_audio.pcm")
//	err = ctrl.StopRecord()
//	_, err = ctrl.ConvertPcmToWav("recordings/recorded_audio.pcm", "recordings/recorded_audio.wav")
//	err = ctrl.StartStaticPlay("recordings/recorded_audio.wav")
package deck
