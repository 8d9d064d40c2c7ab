package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxelspeaker.ai/internal/protocol"
)

// speakerctl attaches to a server as a computer and plays either a named sound
// or a note sequence such as "harp:12,harp:14,bell:19".
func main() {
	var (
		url       = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name      = flag.String("name", "speakerctl", "computer name")
		speakerID = flag.String("speaker", "", "attach to an existing speaker id (default: place a new one)")
		pos       = flag.String("pos", "0,64,0", "speaker position x,y,z for a new speaker")
		sound     = flag.String("sound", "", "sound to play, e.g. entity.cat.ambient")
		notes     = flag.String("notes", "", "comma separated instrument:semitone list")
		volume    = flag.Float64("volume", 1, "volume")
		pitch     = flag.Float64("pitch", 1, "pitch for -sound")
		gap       = flag.Duration("gap", 0, "delay between notes")
		repeat    = flag.Int("repeat", 1, "times to repeat")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[speakerctl] ", log.LstdFlags|log.Lmicroseconds)

	if (*sound == "") == (*notes == "") {
		logger.Fatalf("exactly one of -sound or -notes is required")
	}
	p, err := parsePos(*pos)
	if err != nil {
		logger.Fatalf("bad -pos: %v", err)
	}
	seq, err := parseNotes(*notes)
	if err != nil {
		logger.Fatalf("bad -notes: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Role:            protocol.RoleComputer,
		Name:            *name,
		SpeakerID:       *speakerID,
		Pos:             p,
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}
	var welcome protocol.WelcomeMsg
	if err := readJSON(conn, &welcome); err != nil {
		logger.Fatalf("read WELCOME: %v", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		logger.Fatalf("expected WELCOME, got %s", welcome.Type)
	}
	logger.Printf("WELCOME speaker_id=%s world=%s tick_rate=%d max_notes=%d min_ticks=%d",
		welcome.SpeakerID, welcome.WorldParams.WorldID, welcome.WorldParams.TickRateHz,
		welcome.WorldParams.MaxNotesPerTick, welcome.WorldParams.MinTicksBetweenSounds)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	var played, denied, failed int
	n := 0
	for r := 0; r < *repeat; r++ {
		var reqs []any
		if *sound != "" {
			reqs = append(reqs, protocol.PlaySoundMsg{
				Type:            protocol.TypePlaySound,
				ProtocolVersion: protocol.Version,
				Name:            *sound,
				Volume:          volume,
				Pitch:           pitch,
			})
		}
		for _, nt := range seq {
			semitone := nt.Semitone
			reqs = append(reqs, protocol.PlayNoteMsg{
				Type:            protocol.TypePlayNote,
				ProtocolVersion: protocol.Version,
				Instrument:      nt.Instrument,
				Volume:          volume,
				Pitch:           &semitone,
			})
		}

		for _, req := range reqs {
			select {
			case <-stop:
				return
			default:
			}
			n++
			reqID := fmt.Sprintf("R%d", n)
			switch m := req.(type) {
			case protocol.PlaySoundMsg:
				m.ReqID = reqID
				req = m
			case protocol.PlayNoteMsg:
				m.ReqID = reqID
				req = m
			}
			if err := conn.WriteJSON(req); err != nil {
				logger.Fatalf("send: %v", err)
			}
			var res protocol.ResultMsg
			if err := readJSON(conn, &res); err != nil {
				logger.Fatalf("read RESULT: %v", err)
			}
			switch {
			case res.Code != "":
				failed++
				logger.Printf("RESULT req=%s tick=%d code=%s msg=%s", res.ReqID, res.ServerTick, res.Code, res.Message)
			case res.Played:
				played++
			default:
				denied++
				logger.Printf("RESULT req=%s tick=%d rate limited", res.ReqID, res.ServerTick)
			}
			if *gap > 0 {
				time.Sleep(*gap)
			}
		}
	}
	logger.Printf("done played=%d denied=%d failed=%d", played, denied, failed)
}

type note struct {
	Instrument string
	Semitone   float64
}

func parseNotes(s string) ([]note, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var out []note
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		inst, st, ok := strings.Cut(part, ":")
		if !ok {
			out = append(out, note{Instrument: part, Semitone: 12})
			continue
		}
		v, err := strconv.ParseFloat(st, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		if v < 0 || v > 24 {
			return nil, fmt.Errorf("%q: semitone must be in 0..24", part)
		}
		out = append(out, note{Instrument: inst, Semitone: v})
	}
	return out, nil
}

func parsePos(s string) ([3]float64, error) {
	var p [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("want x,y,z, got %q", s)
	}
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return p, err
		}
		p[i] = v
	}
	return p, nil
}

func readJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(msg, v)
}
