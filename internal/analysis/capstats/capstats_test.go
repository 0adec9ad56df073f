package capstats

import (
	"TCPScope/internal/model"
	"errors"
	"net"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0).UTC()

func frame(sec float64, length int, info *model.PacketInfo) model.Frame {
	ts := t0.Add(time.Duration(sec * float64(time.Second)))
	if info != nil {
		info.Timestamp = ts
		info.Length = length
	}
	return model.Frame{Timestamp: ts, CaptureLength: length, Length: length, Info: info}
}

func segment(flags model.TCPFlags, seq uint32, payload int) *model.PacketInfo {
	return &model.PacketInfo{
		FiveTuple: model.FiveTuple{
			SrcIP: net.IP{10, 0, 0, 1}, DstIP: net.IP{10, 0, 0, 7},
			SrcPort: 40000, DstPort: 5001, Protocol: model.ProtocolTCP,
		},
		TCP: &model.TCPInfo{Flags: flags, Seq: seq, PayloadLen: payload},
	}
}

func TestCompute_Figures(t *testing.T) {
	frames := []model.Frame{
		frame(0, 74, segment(model.FlagSYN, 999, 0)),
		frame(1, 1514, segment(model.FlagACK, 1000, 1448)),
		frame(2, 1514, segment(model.FlagACK, 2448, 1448)),
		// 3896..5344 never captured
		frame(12, 1514, segment(model.FlagACK, 5344, 1448)),
		frame(13, 66, segment(model.FlagACK, 6792, 0)),
		frame(15, 60, nil), // non-IP frame
		frame(20, 66, segment(model.FlagFIN|model.FlagACK, 6792, 0)),
	}

	r, err := Compute(slices.Values(frames), 10*time.Second)
	require.NoError(t, err)

	assert.Equal(t, uint64(7), r.Frames)
	assert.Equal(t, uint64(74+1514*3+66+60+66), r.Bytes)
	assert.Equal(t, 20.0, r.Duration)
	assert.Equal(t, 1514, r.MaxFrameLength)

	assert.Equal(t, uint64(6), r.TCPPackets)
	assert.Equal(t, uint64(3), r.DataPackets)
	assert.Equal(t, uint64(3*1448), r.PayloadBytes)
	assert.InDelta(t, 50.0, r.GoodputPercent, 1e-9)
	assert.InDelta(t, float64(3*1448*8)/20.0, r.GoodputBps, 1e-9)

	assert.Equal(t, uint64(1), r.LostSegments)
	assert.InDelta(t, 100.0/6.0, r.LossRate, 1e-9)

	require.Len(t, r.Intervals, 3)
	assert.Equal(t, uint64(3), r.Intervals[0].Frames)
	assert.Equal(t, uint64(3), r.Intervals[1].Frames)
	assert.Equal(t, uint64(1), r.Intervals[2].Frames)
	assert.Equal(t, 20.0, r.Intervals[2].Start)
	assert.InDelta(t, float64((74+1514*2)*8)/10.0, r.Intervals[0].BitsPerSecond, 1e-9)
	assert.InDelta(t, r.Intervals[0].BitsPerSecond, r.PeakBps, 1e-9)
	assert.InDelta(t, float64((74+1514*3+66+60+66)*8)/10.0/3.0, r.MeanBps, 1e-9)
}

func TestCompute_LargeTimestampGap(t *testing.T) {
	frames := []model.Frame{
		{Timestamp: time.Unix(0, 0), Length: 60},
		{Timestamp: time.Unix(1700000000, 0), Length: 100},
		{Timestamp: time.Unix(1700000000, 500), Length: 100},
	}
	r, err := Compute(slices.Values(frames), time.Second)
	require.NoError(t, err)

	require.Len(t, r.Intervals, 2)
	assert.Equal(t, 0.0, r.Intervals[0].Start)
	assert.Equal(t, uint64(1), r.Intervals[0].Frames)
	assert.Equal(t, 1700000000.0, r.Intervals[1].Start)
	assert.Equal(t, 1700000001.0, r.Intervals[1].End)
	assert.Equal(t, uint64(2), r.Intervals[1].Frames)
	assert.Equal(t, 1600.0, r.PeakBps)
	assert.InDelta(t, float64(260*8)/1700000001.0, r.MeanBps, 1e-9)
}

func TestCompute_SequenceWraparound(t *testing.T) {
	frames := []model.Frame{
		frame(0, 100, segment(model.FlagACK, 0xFFFFFF00, 0x80)),
		frame(1, 100, segment(model.FlagACK, 0xFFFFFF80, 0x100)),
		frame(2, 100, segment(model.FlagACK, 0x80, 0x10)),
	}
	r, err := Compute(slices.Values(frames), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.LostSegments)
}

func TestCompute_RetransmissionIsNotLoss(t *testing.T) {
	frames := []model.Frame{
		frame(0, 100, segment(model.FlagACK, 1000, 100)),
		frame(1, 100, segment(model.FlagACK, 1100, 100)),
		frame(2, 100, segment(model.FlagACK, 1000, 100)),
		frame(3, 100, segment(model.FlagRST, 9000, 0)),
	}
	r, err := Compute(slices.Values(frames), 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.LostSegments)
	assert.Len(t, r.Intervals, 1)
}

func TestCompute_NoTCP(t *testing.T) {
	r, err := Compute(slices.Values([]model.Frame{frame(0, 60, nil)}), 0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.LossRate)
	assert.Equal(t, 0.0, r.GoodputPercent)
	assert.Equal(t, 0.0, r.Throughput)
}

func TestCompute_Empty(t *testing.T) {
	_, err := Compute(slices.Values([]model.Frame{}), 0)
	assert.True(t, errors.Is(err, ErrNoFrames))
}
