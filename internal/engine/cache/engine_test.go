package cache

import (
	"net"
	"testing"
	"time"

	"Go2NetCache/internal/model"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, mutate func(*Options)) (*Engine, *clock.Mock) {
	t.Helper()
	strat, err := NewStrategy("fields", []string{"SrcIP", "DstIP"}, nil)
	require.NoError(t, err)
	mock := clock.NewMock()
	opts := Options{
		Buckets:     101,
		SlabRecords: 16,
		Strategy:    strat,
		Interval:    time.Minute,
		Retain:      2,
		Clock:       mock,
		Logger:      zaptest.NewLogger(t),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, mock
}

func packet(src, dst string, length int, ts time.Time) *model.PacketInfo {
	return &model.PacketInfo{
		Timestamp: ts,
		FiveTuple: model.FiveTuple{SrcIP: net.ParseIP(src), DstIP: net.ParseIP(dst), Protocol: 6},
		Length:    length,
	}
}

func pairKey(src, dst string) Key {
	var k Key
	k.SetSrcIP(net.ParseIP(src))
	k.SetDstIP(net.ParseIP(dst))
	return k
}

func TestEngine_WallclockWindows(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	k := pairKey("10.0.0.1", "10.0.0.2")

	mock.Set(at(10))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 10, at(10))))
	mock.Set(at(30))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 20, at(30))))

	r := e.Find(&k, at(0))
	require.NotNil(t, r)
	assert.Equal(t, uint64(30), r.Bytes)
	assert.Equal(t, uint64(2), r.Packets)

	// The first insert past the deadline closes window 0 before accounting.
	mock.Set(at(70))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 5, at(70))))
	assert.Equal(t, 1, e.Pending())
	assert.True(t, r.Marked())
	assert.Nil(t, e.Find(&k, at(0)))

	next := e.Find(&k, at(60))
	require.NotNil(t, next)
	assert.Equal(t, uint64(5), next.Bytes)

	b, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.Len(t, b.Records, 1)
	assert.Equal(t, uint64(30), b.Records[0].Bytes)
	assert.Equal(t, at(0), b.Records[0].Basetime)
	assert.Equal(t, at(60), b.Cutoff)

	require.NoError(t, e.Ack(b))
	assert.Equal(t, 1, e.Reclaim())
	st := e.Stats()
	assert.Equal(t, 1, st.Arena.InUse)
	assert.Equal(t, uint64(1), st.Flushed)
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Equal(t, 0, e.Reclaim(), "records are released exactly once")
}

func TestEngine_TickClosesIdleWindow(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(5))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 100, at(5))))

	mock.Set(at(59))
	assert.False(t, e.Tick())
	mock.Set(at(60))
	assert.True(t, e.Tick())
	assert.Equal(t, 1, e.Pending())
	assert.Equal(t, at(120), e.Stats().Deadline)
}

func TestEngine_HistoricalLateRecordsDropped(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.Historical = true })
	mock.Set(at(100))

	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(65))))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 2, at(20))), "window 0 is within retention")

	k := pairKey("10.0.0.1", "10.0.0.2")
	require.NotNil(t, e.Find(&k, at(0)))
	require.NotNil(t, e.Find(&k, at(60)))

	// Data for window 120 pushes window 0 out of retention.
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 4, at(130))))
	assert.Equal(t, 1, e.Pending())
	assert.Nil(t, e.Find(&k, at(0)))

	before := e.Stats().Arena.InUse
	err := e.Insert(packet("10.0.0.1", "10.0.0.2", 8, at(20)))
	assert.ErrorIs(t, err, ErrLateRecord)
	st := e.Stats()
	assert.Equal(t, uint64(1), st.Late)
	assert.Equal(t, before, st.Arena.InUse, "late records never allocate")
}

func TestEngine_HistoricalSlowInputKeepsWindowOpen(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.Historical = true })
	k := pairKey("10.0.0.1", "10.0.0.2")

	mock.Set(at(0))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(10))))
	mock.Add(130 * time.Second)
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 2, at(20))), "window 0 is still the newest")

	r := e.Find(&k, at(0))
	require.NotNil(t, r)
	assert.Equal(t, uint64(3), r.Bytes)
	assert.Equal(t, uint64(0), e.Stats().Late)

	// Without any input for retain intervals the newest window closes.
	mock.Add(130 * time.Second)
	require.True(t, e.Tick())
	assert.Equal(t, 1, e.Pending())
	assert.Equal(t, at(60), e.Stats().ClosedBefore)
}

func TestEngine_ArenaGrowth(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.SlabRecords = 2 })
	mock.Set(at(1))
	for _, dst := range []string{"10.0.0.2", "10.0.0.3", "10.0.0.4"} {
		require.NoError(t, e.Insert(packet("10.0.0.1", dst, 1, at(1))))
	}
	st := e.Stats().Arena
	assert.Equal(t, 1, st.Grows)
	assert.Equal(t, 2, st.Slabs)
	assert.Equal(t, 3, e.Stats().Records)
}

func TestEngine_ArenaExhausted(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.SlabRecords = 1; o.MaxSlabs = 1 })
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))
	err := e.Insert(packet("10.0.0.1", "10.0.0.3", 1, at(1)))
	assert.ErrorIs(t, err, ErrArenaExhausted)
}

func TestEngine_CorruptRecordExcluded(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))
	require.NoError(t, e.Insert(packet("10.0.0.3", "10.0.0.4", 1, at(1))))

	k := pairKey("10.0.0.1", "10.0.0.2")
	r := e.Find(&k, at(0))
	require.NotNil(t, r)
	r.bucket = (r.bucket + 1) % uint32(e.table.Size())

	mock.Set(at(61))
	require.True(t, e.Tick())

	b, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.Len(t, b.Records, 1)
	assert.Equal(t, pairKey("10.0.0.3", "10.0.0.4"), b.Records[0].Key)
	require.Len(t, b.Errors, 1)
	assert.Equal(t, k, b.Errors[0])

	st := e.Stats()
	assert.Equal(t, uint64(1), st.Errors)
	assert.Equal(t, 1, st.Arena.InUse, "the corrupt record is reclaimed")
}

func TestEngine_PartialMultiKeyInsertIsCounted(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) {
		strat, err := NewStrategy("host", nil, nil)
		require.NoError(t, err)
		o.Strategy = strat
		o.Buckets = 1
	})
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))

	src, dst := hostKey("10.0.0.1"), hostKey("10.0.0.2")
	rd := e.Find(&dst, at(0))
	require.NotNil(t, rd)
	rd.next = rd.ref

	err := e.Insert(packet("10.0.0.1", "10.0.0.9", 5, at(2)))
	assert.ErrorIs(t, err, ErrCorruptChain)

	rs := e.Find(&src, at(0))
	require.NotNil(t, rs)
	assert.Equal(t, uint64(6), rs.Bytes, "the first key keeps the update")
	st := e.Stats()
	assert.Equal(t, uint64(2), st.Inserted)
	assert.Equal(t, uint64(1), st.Partial)
	rd.next = nilRef
}

func TestEngine_NegativeLengthAddsNoBytes(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 10, at(1))))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", -4, at(2))))

	k := pairKey("10.0.0.1", "10.0.0.2")
	r := e.Find(&k, at(0))
	require.NotNil(t, r)
	assert.Equal(t, uint64(10), r.Bytes)
	assert.Equal(t, uint64(2), r.Packets)
}

func TestEngine_EmptyRecordsAreInvalid(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))

	k := pairKey("10.9.9.9", "10.9.9.8")
	_, err := e.InsertOrUpdate(&k, &Measurement{Basetime: at(0), Timestamp: at(1)})
	require.NoError(t, err)

	mock.Set(at(60))
	require.True(t, e.Tick())
	assert.Equal(t, 1, e.Pending())
	assert.Equal(t, uint64(1), e.Stats().Invalid)
}

func TestEngine_OrderedFlush(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.Ordered = true })
	mock.Set(at(1))
	dsts := []string{"10.0.0.9", "10.0.0.3", "10.0.0.7", "10.0.0.1", "10.0.0.5"}
	for _, dst := range dsts {
		require.NoError(t, e.Insert(packet("192.168.0.1", dst, 1, at(1))))
	}

	mock.Set(at(60))
	require.True(t, e.Tick())
	b, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.Len(t, b.Records, len(dsts))
	for i, dst := range dsts {
		assert.Equal(t, pairKey("192.168.0.1", dst), b.Records[i].Key)
	}
}

func TestEngine_SwapWaitsForAck(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))
	mock.Set(at(61))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(61))))

	b1, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.NotNil(t, b1)

	mock.Set(at(121))
	require.True(t, e.Tick())
	_, err = e.SwapAndDrain()
	assert.ErrorIs(t, err, ErrBatchNotReady)
	assert.Equal(t, 1, e.Pending(), "records wait on the pending side")

	require.NoError(t, e.Ack(b1))
	b2, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.Len(t, b2.Records, 1)
	assert.Equal(t, at(60), b2.Records[0].Basetime)
}

func TestEngine_HeldBatchYieldsMultiWindowBatch(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))
	mock.Set(at(61))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 5, at(61))))
	b1, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.NotNil(t, b1)

	mock.Set(at(121))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 7, at(121))))
	mock.Set(at(181))
	require.True(t, e.Tick())

	require.NoError(t, e.Ack(b1))
	b2, err := e.SwapAndDrain()
	require.NoError(t, err)
	require.Len(t, b2.Records, 2)

	groups := b2.Windows()
	require.Len(t, groups, 2)
	assert.Equal(t, at(60), groups[0].Basetime)
	assert.Equal(t, uint64(5), groups[0].Records[0].Bytes)
	assert.Equal(t, at(120), groups[1].Basetime)
	assert.Equal(t, uint64(7), groups[1].Records[0].Bytes)
}

func TestEngine_FlushAll(t *testing.T) {
	e, mock := newTestEngine(t, nil)
	assert.Equal(t, 0, e.FlushAll())

	mock.Set(at(1))
	require.NoError(t, e.Insert(packet("10.0.0.1", "10.0.0.2", 1, at(1))))
	require.NoError(t, e.Insert(packet("10.0.0.3", "10.0.0.2", 1, at(1))))
	assert.Equal(t, 2, e.FlushAll())
	assert.Equal(t, 0, e.Stats().Records)
}

func TestEngine_Stitching(t *testing.T) {
	e, mock := newTestEngine(t, func(o *Options) { o.Stitching = true })
	mock.Set(at(10))

	end := packet("10.0.0.1", "10.0.0.2", 40, at(10))
	end.Edge, end.Flows, end.FlowEnd = model.EdgeEnd, 1, at(9)
	require.NoError(t, e.Insert(end))

	start := packet("10.0.0.1", "10.0.0.2", 60, at(10))
	start.Edge, start.Flows, start.FlowStart = model.EdgeStart, 1, at(2)
	require.NoError(t, e.Insert(start))

	k := pairKey("10.0.0.1", "10.0.0.2")
	r := e.Find(&k, at(0))
	require.NotNil(t, r)
	require.NotNil(t, r.Stitch)
	assert.True(t, r.Stitch.Complete())
	assert.Equal(t, uint64(1), r.Flows, "both edges of one flow count once")
	assert.Equal(t, uint64(100), r.Bytes)
	assert.Equal(t, 7*time.Second, r.Stitch.Duration)
}

func TestEngine_RejectsBadOptions(t *testing.T) {
	_, err := New(Options{Interval: time.Minute})
	assert.Error(t, err)

	strat, err := NewStrategy("host", nil, nil)
	require.NoError(t, err)
	_, err = New(Options{Strategy: strat})
	assert.Error(t, err)
}

func BenchmarkEngine_Insert(b *testing.B) {
	strat, _ := NewStrategy("host", nil, nil)
	mock := clock.NewMock()
	mock.Set(at(1))
	e, err := New(Options{Buckets: 16411, SlabRecords: 65536, Strategy: strat, Interval: time.Hour, Clock: mock})
	if err != nil {
		b.Fatal(err)
	}
	defer e.Close()

	pkts := make([]*model.PacketInfo, 1024)
	for i := range pkts {
		ip := net.IPv4(10, 0, byte(i>>8), byte(i))
		pkts[i] = &model.PacketInfo{Timestamp: at(1), FiveTuple: model.FiveTuple{SrcIP: ip, DstIP: net.IPv4(10, 1, 0, 1)}, Length: 64}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := e.Insert(pkts[i%len(pkts)]); err != nil {
			b.Fatal(err)
		}
	}
}
