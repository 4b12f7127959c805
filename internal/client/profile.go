package client

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/chronologos/glide/internal/transport"
	"github.com/chronologos/glide/internal/version"
)

// inputCounts tallies what the server asked the backend to do. It is
// written on the loop and read by the profiling goroutine.
type inputCounts struct {
	enters  atomic.Uint64
	moves   atomic.Uint64
	keys    atomic.Uint64
	buttons atomic.Uint64
	wheels  atomic.Uint64
}

func (n *inputCounts) snapshot() profileInput {
	return profileInput{
		Enters:  n.enters.Load(),
		Moves:   n.moves.Load(),
		Keys:    n.keys.Load(),
		Buttons: n.buttons.Load(),
		Wheels:  n.wheels.Load(),
	}
}

// startProfiling emits an RTT/loss line every profileInterval until the
// returned stop function is called, which also writes the summary.
func (c *Client) startProfiling(conn transport.ProfileableConn) (stop func()) {
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		tick := time.NewTicker(profileInterval)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				c.logProfile(conn)
			case <-quit:
				return
			}
		}
	}()
	return func() {
		close(quit)
		<-done
		c.logProfileSummary(conn)
	}
}

// logProfile emits a periodic RTT/loss line to stderr.
func (c *Client) logProfile(conn transport.ProfileableConn) {
	stats := conn.ConnectionStats()
	in := c.inputs.snapshot()
	fmt.Fprintf(c.stderr, "[profile] rtt=%s jitter=%s loss=%d/%dpkts input=%d moves %d keys\n",
		formatDuration(stats.SmoothedRTT),
		formatDuration(stats.MeanDeviation),
		stats.PacketsLost,
		stats.PacketsSent,
		in.Moves,
		in.Keys,
	)
}

// logProfileSummary emits a final summary to stderr and writes JSON to the
// temp directory.
func (c *Client) logProfileSummary(conn transport.ProfileableConn) {
	stats := conn.ConnectionStats()
	duration := time.Since(c.profileStart)
	in := c.inputs.snapshot()
	fmt.Fprintf(c.stderr, "[profile] === %s @ %s (protocol %s) ===\n", c.cfg.Name, c.cfg.Addr, c.negotiated)
	fmt.Fprintf(c.stderr, "[profile] Duration: %s\n", duration.Round(time.Second))
	fmt.Fprintf(c.stderr, "[profile] RTT: min=%s smooth=%s latest=%s jitter=%s\n",
		formatDuration(stats.MinRTT),
		formatDuration(stats.SmoothedRTT),
		formatDuration(stats.LatestRTT),
		formatDuration(stats.MeanDeviation),
	)
	fmt.Fprintf(c.stderr, "[profile] Traffic: sent=%s/%dpkts recv=%s/%dpkts lost=%dpkts\n",
		formatBytes(stats.BytesSent),
		stats.PacketsSent,
		formatBytes(stats.BytesReceived),
		stats.PacketsReceived,
		stats.PacketsLost,
	)
	fmt.Fprintf(c.stderr, "[profile] Input: enters=%d moves=%d keys=%d buttons=%d wheels=%d\n",
		in.Enters, in.Moves, in.Keys, in.Buttons, in.Wheels)

	c.writeProfileJSON(conn)
}

type profileJSON struct {
	Timestamp string         `json:"timestamp"`
	Commit    string         `json:"commit"`
	Server    string         `json:"server"`
	Screen    string         `json:"screen"`
	Protocol  string         `json:"protocol"`
	DurationS float64        `json:"duration_s"`
	RTT       profileRTT     `json:"rtt"`
	Traffic   profileTraffic `json:"traffic"`
	Input     profileInput   `json:"input"`
}

type profileRTT struct {
	MinMs    float64 `json:"min_ms"`
	SmoothMs float64 `json:"smooth_ms"`
	LatestMs float64 `json:"latest_ms"`
	JitterMs float64 `json:"jitter_ms"`
}

type profileTraffic struct {
	BytesSent uint64 `json:"bytes_sent"`
	BytesRecv uint64 `json:"bytes_recv"`
	PktsSent  uint64 `json:"pkts_sent"`
	PktsRecv  uint64 `json:"pkts_recv"`
	PktsLost  uint64 `json:"pkts_lost"`
}

type profileInput struct {
	Enters  uint64 `json:"enters"`
	Moves   uint64 `json:"moves"`
	Keys    uint64 `json:"keys"`
	Buttons uint64 `json:"buttons"`
	Wheels  uint64 `json:"wheels"`
}

// writeProfileJSON dumps the profile to the temp directory.
func (c *Client) writeProfileJSON(conn transport.ProfileableConn) {
	stats := conn.ConnectionStats()
	now := time.Now()

	p := profileJSON{
		Timestamp: now.UTC().Format(time.RFC3339),
		Commit:    version.Commit,
		Server:    c.cfg.Addr,
		Screen:    c.cfg.Name,
		Protocol:  c.negotiated.String(),
		DurationS: now.Sub(c.profileStart).Seconds(),
		RTT: profileRTT{
			MinMs:    msFloat(stats.MinRTT),
			SmoothMs: msFloat(stats.SmoothedRTT),
			LatestMs: msFloat(stats.LatestRTT),
			JitterMs: msFloat(stats.MeanDeviation),
		},
		Traffic: profileTraffic{
			BytesSent: stats.BytesSent,
			BytesRecv: stats.BytesReceived,
			PktsSent:  stats.PacketsSent,
			PktsRecv:  stats.PacketsReceived,
			PktsLost:  stats.PacketsLost,
		},
		Input: c.inputs.snapshot(),
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		c.log.Warn().Err(err).Msg("profile: json marshal")
		return
	}

	filename := filepath.Join(os.TempDir(), fmt.Sprintf("glide-profile-%s.json", now.Format("20060102-150405")))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		c.log.Warn().Err(err).Str("file", filename).Msg("profile: write")
		return
	}

	fmt.Fprintf(c.stderr, "[profile] wrote %s\n", filename)
}

func msFloat(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// formatBytes formats a byte count as a human-readable string.
func formatBytes(b uint64) string {
	switch {
	case b >= 1<<30:
		return fmt.Sprintf("%.1fGB", float64(b)/(1<<30))
	case b >= 1<<20:
		return fmt.Sprintf("%.1fMB", float64(b)/(1<<20))
	case b >= 1<<10:
		return fmt.Sprintf("%.1fKB", float64(b)/(1<<10))
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// formatDuration formats a duration as milliseconds with one decimal.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "0ms"
	}
	return fmt.Sprintf("%.1fms", msFloat(d))
}
