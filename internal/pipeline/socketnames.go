package pipeline

// names of the UDP endpoints a pipeline adopts. They are fixed: the
// session binds its server sockets under these identifiers and the
// pipeline looks them up by name when it starts.
const (
	SocketVideoRTPSrv     = "video_rtp_srv"
	SocketVideoRTCPRcvSrv = "video_rtcp_rcv_srv"
	SocketAudioRTPSrv     = "audio_rtp_srv"
	SocketAudioRTCPRcvSrv = "audio_rtcp_rcv_srv"
)
