package pipeline

import (
	"log/slog"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v5"
	"github.com/bluenviron/gortsplib/v5/pkg/description"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"rtspsource/internal/udpsock"
)

const receiverReportInterval = 5 * time.Second

// ingest is the media path of a single stream. It parses RTP arriving
// on the adopted rtp_srv socket, repayloads it for the RTSP side and
// writes it into the server stream. Receiver feedback (receiver
// reports, and a PLI on video sequence gaps) goes out as RTCP to the
// configured send port.
type ingest struct {
	log         *slog.Logger
	video       bool
	outPT       uint8
	media       *description.Media
	rtpSrv      *udpsock.Socket
	rtcpRcvSrv  *udpsock.Socket
	rtcpSndPort int

	stream  *gortsplib.ServerStream
	sndConn *net.UDPConn
	done    chan struct{}
	wg      sync.WaitGroup

	localSSRC uint32

	statsMutex sync.Mutex
	remoteSSRC uint32
	lastSeq    uint16
	received   uint64
}

func (in *ingest) start(stream *gortsplib.ServerStream) {
	in.stream = stream
	in.localSSRC = rand.Uint32()
	in.done = make(chan struct{})

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{
		IP:   net.ParseIP("127.0.0.1"),
		Port: in.rtcpSndPort,
	})
	if err != nil {
		in.log.Error("unable to open RTCP send path", "err", err)
	} else {
		in.sndConn = conn
	}

	in.rtpSrv.AttachReader(in.onRTPPacket)
	in.rtcpRcvSrv.AttachReader(in.onRTCPPacket)

	in.wg.Add(1)
	go in.runReceiverReports()
}

// stop detaches from the adopted sockets without closing them.
func (in *ingest) stop() {
	in.rtpSrv.DetachReader()
	in.rtcpRcvSrv.DetachReader()
	close(in.done)
	in.wg.Wait()

	if in.sndConn != nil {
		in.sndConn.Close()
		in.sndConn = nil
	}
}

func (in *ingest) onRTPPacket(buf []byte) {
	var pkt rtp.Packet
	err := pkt.Unmarshal(buf)
	if err != nil {
		in.log.Debug("discarding invalid RTP packet", "err", err)
		return
	}

	gap := in.trackSequence(&pkt)
	if gap && in.video {
		in.sendPLI()
	}

	pkt.PayloadType = in.outPT
	err = in.stream.WritePacketRTP(in.media, &pkt)
	if err != nil {
		in.log.Debug("unable to write RTP packet", "err", err)
	}
}

func (in *ingest) trackSequence(pkt *rtp.Packet) bool {
	in.statsMutex.Lock()
	defer in.statsMutex.Unlock()

	gap := false
	if in.received > 0 && in.remoteSSRC == pkt.SSRC {
		if pkt.SequenceNumber != in.lastSeq+1 {
			gap = true
		}
	}
	in.remoteSSRC = pkt.SSRC
	in.lastSeq = pkt.SequenceNumber
	in.received++
	return gap
}

func (in *ingest) onRTCPPacket(buf []byte) {
	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		in.log.Debug("discarding invalid RTCP packet", "err", err)
		return
	}
	in.log.Debug("RTCP received", "video", in.video, "packets", len(pkts))
}

func (in *ingest) runReceiverReports() {
	defer in.wg.Done()

	ticker := time.NewTicker(receiverReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			in.sendReceiverReport()
		case <-in.done:
			return
		}
	}
}

func (in *ingest) sendReceiverReport() {
	if in.sndConn == nil {
		return
	}

	in.statsMutex.Lock()
	ssrc := in.remoteSSRC
	lastSeq := in.lastSeq
	received := in.received
	in.statsMutex.Unlock()

	if received == 0 {
		return
	}

	rr := &rtcp.ReceiverReport{
		SSRC: in.localSSRC,
		Reports: []rtcp.ReceptionReport{{
			SSRC:               ssrc,
			LastSequenceNumber: uint32(lastSeq),
		}},
	}
	buf, err := rr.Marshal()
	if err != nil {
		return
	}
	in.sndConn.Write(buf) //nolint:errcheck
}

func (in *ingest) sendPLI() {
	if in.sndConn == nil {
		return
	}

	in.statsMutex.Lock()
	ssrc := in.remoteSSRC
	in.statsMutex.Unlock()

	pli := &rtcp.PictureLossIndication{
		SenderSSRC: in.localSSRC,
		MediaSSRC:  ssrc,
	}
	buf, err := pli.Marshal()
	if err != nil {
		return
	}
	in.sndConn.Write(buf) //nolint:errcheck
}
