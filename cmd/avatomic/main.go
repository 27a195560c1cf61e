package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/facebookincubator/go-belt"
	beltlogger "github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/spf13/pflag"
	"github.com/xaionaro-go/avatomic/logger"
	"github.com/xaionaro-go/avatomic/session"
	"github.com/xaionaro-go/observability"
)

func main() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "syntax: %s probe <URL>\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        %s remux <URL-from> <URL-to> [format]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "        %s transcode <URL-from> <URL-to> <video-codec>\n", os.Args[0])
	}

	loggerLevel := beltlogger.LevelWarning
	pflag.Var(&loggerLevel, "log-level", "Log level")
	netPprofAddr := pflag.String("net-pprof-listen-addr", "", "an address to listen for incoming net/pprof connections")
	maxHandles := pflag.Int("max-handles", 0, "override the handle table capacity")
	pflag.Parse()
	if pflag.NArg() < 2 {
		pflag.Usage()
		os.Exit(1)
	}

	l := logrus.Default().WithLevel(loggerLevel)
	ctx := beltlogger.CtxWithLogger(context.Background(), l)
	logger.SetDefault(func() logger.Logger { return l })
	defer belt.Flush(ctx)

	if *netPprofAddr != "" {
		observability.Go(ctx, func(ctx context.Context) { l.Error(http.ListenAndServe(*netPprofAddr, nil)) })
	}

	logger.SetEngineLogCallback(ctx)

	s := session.New(ctx, session.Config{MaxHandles: *maxHandles})
	defer s.Close(ctx)

	var err error
	switch cmd := pflag.Arg(0); cmd {
	case "probe":
		err = probe(ctx, s, pflag.Arg(1))
	case "remux":
		if pflag.NArg() < 3 {
			pflag.Usage()
			os.Exit(1)
		}
		formatName := ""
		if pflag.NArg() > 3 {
			formatName = pflag.Arg(3)
		}
		err = remux(ctx, s, pflag.Arg(1), pflag.Arg(2), formatName)
	case "transcode":
		if pflag.NArg() < 4 {
			pflag.Usage()
			os.Exit(1)
		}
		err = transcode(ctx, s, pflag.Arg(1), pflag.Arg(2), pflag.Arg(3))
	default:
		pflag.Usage()
		os.Exit(1)
	}
	if err != nil {
		l.Fatal(err)
	}
}

type probeReport struct {
	Duration int64                `json:"duration"`
	Metadata map[string]string    `json:"metadata"`
	Streams  []session.StreamInfo `json:"streams"`
}

func probe(ctx context.Context, s *session.Session, url string) error {
	inputH, err := s.OpenInput(ctx, url)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", url, err)
	}
	defer s.CloseHandle(ctx, inputH)

	report := probeReport{}
	report.Duration, err = s.Duration(ctx, inputH)
	if err != nil {
		return err
	}
	report.Metadata, err = s.Metadata(ctx, inputH)
	if err != nil {
		return err
	}
	streamCount, err := s.StreamCount(ctx, inputH)
	if err != nil {
		return err
	}
	for streamIndex := 0; streamIndex < streamCount; streamIndex++ {
		info, err := s.StreamInfo(ctx, inputH, streamIndex)
		if err != nil {
			return err
		}
		report.Streams = append(report.Streams, info)
	}

	reportJSON, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", reportJSON)
	return nil
}

func remux(ctx context.Context, s *session.Session, fromURL, toURL, formatName string) error {
	inputH, err := s.OpenInput(ctx, fromURL)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", fromURL, err)
	}
	defer s.CloseHandle(ctx, inputH)

	outputH, err := s.CreateOutput(ctx, toURL, formatName)
	if err != nil {
		return fmt.Errorf("unable to create the output '%s': %w", toURL, err)
	}
	defer s.CloseHandle(ctx, outputH)

	streamCount, err := s.StreamCount(ctx, inputH)
	if err != nil {
		return err
	}
	for streamIndex := 0; streamIndex < streamCount; streamIndex++ {
		outStreamIndex, err := s.AddStream(ctx, outputH)
		if err != nil {
			return err
		}
		if err := s.CopyStreamParameters(ctx, inputH, outputH, streamIndex, outStreamIndex); err != nil {
			return err
		}
	}
	if err := s.CopyMetadata(ctx, inputH, outputH); err != nil {
		return err
	}
	if err := s.WriteHeader(ctx, outputH); err != nil {
		return err
	}

	packetH, err := s.AllocPacket(ctx)
	if err != nil {
		return err
	}
	var packets uint64
	for {
		status, err := s.ReadPacket(ctx, inputH, packetH)
		if err != nil {
			return err
		}
		if status != session.StatusOK {
			break
		}
		streamIndex, err := s.PacketProperty(ctx, packetH, "stream_index")
		if err != nil {
			return err
		}
		if err := s.WritePacket(ctx, outputH, packetH, int(streamIndex), session.WritePacketOptions{
			SourceInput:       inputH,
			SourceStreamIndex: int(streamIndex),
		}); err != nil {
			return err
		}
		packets++
	}
	if err := s.WriteTrailer(ctx, outputH); err != nil {
		return err
	}
	l := logger.FromCtx(ctx)
	l.Infof("remuxed %d packets from '%s' to '%s'", packets, fromURL, toURL)
	return nil
}

func transcode(ctx context.Context, s *session.Session, fromURL, toURL, videoCodec string) error {
	inputH, err := s.OpenInput(ctx, fromURL)
	if err != nil {
		return fmt.Errorf("unable to open '%s': %w", fromURL, err)
	}
	defer s.CloseHandle(ctx, inputH)

	videoStreamIndex := -1
	streamCount, err := s.StreamCount(ctx, inputH)
	if err != nil {
		return err
	}
	var videoInfo session.StreamInfo
	for streamIndex := 0; streamIndex < streamCount; streamIndex++ {
		info, err := s.StreamInfo(ctx, inputH, streamIndex)
		if err != nil {
			return err
		}
		if info.Width > 0 && videoStreamIndex < 0 {
			videoStreamIndex = streamIndex
			videoInfo = info
		}
	}
	if videoStreamIndex < 0 {
		return fmt.Errorf("no video stream in '%s'", fromURL)
	}

	decoderH, err := s.CreateDecoderForStream(ctx, inputH, videoStreamIndex)
	if err != nil {
		return err
	}
	encoderH, err := s.CreateEncoder(ctx, videoCodec)
	if err != nil {
		return err
	}
	for key, value := range map[string]string{
		"width":         fmt.Sprintf("%d", videoInfo.Width),
		"height":        fmt.Sprintf("%d", videoInfo.Height),
		"pix_fmt":       "yuv420p",
		"time_base_num": fmt.Sprintf("%d", videoInfo.TimeBase.Num()),
		"time_base_den": fmt.Sprintf("%d", videoInfo.TimeBase.Den()),
	} {
		if err := s.SetEncoderOption(ctx, encoderH, key, value); err != nil {
			return err
		}
	}
	if err := s.OpenEncoder(ctx, encoderH); err != nil {
		return err
	}

	outputH, err := s.CreateOutput(ctx, toURL, "")
	if err != nil {
		return err
	}
	defer s.CloseHandle(ctx, outputH)
	outStreamIndex, err := s.AddStream(ctx, outputH)
	if err != nil {
		return err
	}
	if err := s.CopyEncoderParameters(ctx, encoderH, outputH, outStreamIndex); err != nil {
		return err
	}
	if err := s.WriteHeader(ctx, outputH); err != nil {
		return err
	}

	packetH, err := s.AllocPacket(ctx)
	if err != nil {
		return err
	}
	frameH, err := s.AllocFrame(ctx)
	if err != nil {
		return err
	}
	encodedH, err := s.AllocPacket(ctx)
	if err != nil {
		return err
	}

	writePending := func() error {
		for {
			status, err := s.ReceivePacket(ctx, encoderH, encodedH)
			if err != nil {
				return err
			}
			if status != session.StatusOK {
				return nil
			}
			if err := s.WritePacket(ctx, outputH, encodedH, outStreamIndex, session.WritePacketOptions{}); err != nil {
				return err
			}
		}
	}
	encodePending := func() error {
		for {
			status, err := s.ReceiveFrame(ctx, decoderH, frameH)
			if err != nil {
				return err
			}
			if status != session.StatusOK {
				return nil
			}
			if _, err := s.SendFrame(ctx, encoderH, frameH); err != nil {
				return err
			}
			if err := writePending(); err != nil {
				return err
			}
		}
	}

	for {
		status, err := s.ReadPacket(ctx, inputH, packetH)
		if err != nil {
			return err
		}
		if status != session.StatusOK {
			break
		}
		streamIndex, err := s.PacketProperty(ctx, packetH, "stream_index")
		if err != nil {
			return err
		}
		if int(streamIndex) != videoStreamIndex {
			continue
		}
		if _, err := s.SendPacket(ctx, decoderH, packetH); err != nil {
			return err
		}
		if err := encodePending(); err != nil {
			return err
		}
	}

	if _, err := s.FlushDecoder(ctx, decoderH); err != nil {
		return err
	}
	if err := encodePending(); err != nil {
		return err
	}
	if _, err := s.FlushEncoder(ctx, encoderH); err != nil {
		return err
	}
	if err := writePending(); err != nil {
		return err
	}
	return s.WriteTrailer(ctx, outputH)
}
