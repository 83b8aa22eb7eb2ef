package handler

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/netip"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/hostmon/internal/core"
	"firestige.xyz/hostmon/internal/host"
	"firestige.xyz/hostmon/internal/metrics"
	"firestige.xyz/hostmon/internal/resolver"
)

var (
	localMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	remoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
	otherMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x03}

	localIP  = netip.MustParseAddr("10.0.0.5")
	remoteIP = netip.MustParseAddr("203.0.113.7")
)

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) LookupAddr(ctx context.Context, addr netip.Addr) (string, error) {
	args := m.Called(ctx, addr)
	return args.String(0), args.Error(1)
}

type mockCountry struct {
	mock.Mock
}

func (m *mockCountry) Country(addr netip.Addr) string {
	return m.Called(addr).String(0)
}

func frame(t *testing.T, srcMAC, dstMAC net.HardwareAddr, src, dst netip.Addr, payload int) core.RawPacket {
	t.Helper()
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    src.AsSlice(),
		DstIP:    dst.AsSlice(),
	}
	tcp := &layers.TCP{SrcPort: 443, DstPort: 51000, ACK: true, Window: 65535}
	require.NoError(t, tcp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, tcp, gopacket.Payload(make([]byte, payload))))

	data := buf.Bytes()
	return core.RawPacket{Data: data, CaptureLen: uint32(len(data)), OrigLen: uint32(len(data))}
}

func inbound(t *testing.T) core.RawPacket {
	return frame(t, remoteMAC, localMAC, remoteIP, localIP, 0)
}

func outbound(t *testing.T) core.RawPacket {
	return frame(t, localMAC, remoteMAC, localIP, remoteIP, 0)
}

func TestHandleInboundAndOutbound(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("edge-7.cdn.example.com", nil)

	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	in := inbound(t)
	in.OrigLen = 1024
	h.Handle(context.Background(), in)

	out := outbound(t)
	out.OrigLen = 2048
	h.Handle(context.Background(), out)

	require.Equal(t, 1, reg.Len())
	rec, ok := reg.Lookup("example.com")
	require.True(t, ok)
	assert.EqualValues(t, 1, rec.CountIn)
	assert.EqualValues(t, 1, rec.CountOut)
	assert.Equal(t, 1.0, rec.InBytes)
	assert.Equal(t, 2.0, rec.OutBytes)
	assert.Equal(t, 3.0, rec.TotalBytes)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultRecorded)))
	assert.Equal(t, 1024.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("inbound")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(m.BytesTotal.WithLabelValues("outbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Hosts))
	r.AssertNumberOfCalls(t, "LookupAddr", 2)
}

func TestHandleUsesCapturedLengthWithoutOrigLen(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("example.org", nil)

	reg := host.NewRegistry()
	h := New(reg, localMAC, r)

	pkt := frame(t, remoteMAC, localMAC, remoteIP, localIP, 458) // 14+20+20+458 = 512
	pkt.OrigLen = 0
	rec, err := h.handle(context.Background(), pkt)
	require.NoError(t, err)
	assert.Equal(t, 0.5, rec.InBytes)
}

func TestHandleUnknownDirection(t *testing.T) {
	r := new(mockResolver)
	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	_, err := h.handle(context.Background(), frame(t, remoteMAC, otherMAC, remoteIP, localIP, 0))
	assert.ErrorIs(t, err, core.ErrUnknownDirection)

	assert.Zero(t, reg.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultUnknownDirection)))
	r.AssertNotCalled(t, "LookupAddr", mock.Anything, mock.Anything)
}

func TestHandleUnknownDirectionLogsVLANs(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: otherMAC, EthernetType: layers.EthernetTypeDot1Q}
	vlan := &layers.Dot1Q{VLANIdentifier: 42, Type: layers.EthernetTypeIPv4}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, vlan, gopacket.Payload(make([]byte, 20))))

	h := New(host.NewRegistry(), localMAC, new(mockResolver))
	_, err := h.handle(context.Background(), core.RawPacket{Data: buf.Bytes()})
	assert.ErrorIs(t, err, core.ErrUnknownDirection)
	assert.Contains(t, logs.String(), "dropping frame of unknown direction")
	assert.Contains(t, logs.String(), "vlans=[42]")
}

func TestHandleNonIP(t *testing.T) {
	r := new(mockResolver)
	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	eth := &layers.Ethernet{SrcMAC: remoteMAC, DstMAC: localMAC, EthernetType: layers.EthernetTypeARP}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload(make([]byte, 28))))

	_, err := h.handle(context.Background(), core.RawPacket{Data: buf.Bytes()})
	assert.ErrorIs(t, err, core.ErrUnsupportedFrameType)
	assert.Zero(t, reg.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultNonIP)))
}

func TestHandleMalformed(t *testing.T) {
	r := new(mockResolver)
	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	pkt := inbound(t)
	pkt.Data = pkt.Data[:20]
	_, err := h.handle(context.Background(), pkt)
	assert.ErrorIs(t, err, core.ErrPacketTooShort)
	assert.Zero(t, reg.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultMalformed)))
}

func TestHandleResolutionFailureDoesNotMutate(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("", resolver.ErrNoName)

	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	_, err := h.handle(context.Background(), inbound(t))
	assert.ErrorIs(t, err, core.ErrResolution)
	assert.ErrorIs(t, err, resolver.ErrNoName)

	_, err = h.handle(context.Background(), outbound(t))
	assert.ErrorIs(t, err, core.ErrResolution)

	assert.Zero(t, reg.Len())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultUnresolved)))
	assert.Equal(t, 0, testutil.CollectAndCount(m.BytesTotal))
}

func TestHandleEmptyNameDoesNotMutate(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("", nil)
	reg := host.NewRegistry()
	m := metrics.New()
	h := New(reg, localMAC, r, WithMetrics(m))

	_, err := h.handle(context.Background(), inbound(t))
	assert.ErrorIs(t, err, core.ErrResolution)
	assert.ErrorIs(t, err, resolver.ErrNoName)
	assert.Zero(t, reg.Len())
	_, ok := reg.Lookup("")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesTotal.WithLabelValues(metrics.ResultUnresolved)))
	r.AssertExpectations(t)
}

func TestHandleCountryAnnotation(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("www.example.com", nil)
	geo := new(mockCountry)
	geo.On("Country", remoteIP).Return("NL")

	reg := host.NewRegistry()
	h := New(reg, localMAC, r, WithCountryLookup(geo))

	rec, err := h.handle(context.Background(), outbound(t))
	require.NoError(t, err)
	assert.Equal(t, "NL", rec.Country)
	geo.AssertExpectations(t)
}

func TestHandleNoMetrics(t *testing.T) {
	r := new(mockResolver)
	r.On("LookupAddr", mock.Anything, remoteIP).Return("example.com", nil)

	h := New(host.NewRegistry(), localMAC, r)
	assert.NotPanics(t, func() {
		h.Handle(context.Background(), inbound(t))
		h.Handle(context.Background(), core.RawPacket{Data: []byte{0x00}})
	})
}
