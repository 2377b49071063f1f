// Package ffprobe wraps the ffprobe binary to produce FileInfo fact
// snapshots for the policy engine.
package ffprobe
