package main

import (
	"bufio"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// echoLines copies lines from src to dst, CRLF terminated, until src ends.
func echoLines(dst io.Writer, src io.Reader) error {
	sc := bufio.NewScanner(src)
	for sc.Scan() {
		if _, err := fmt.Fprintf(dst, "%s\r\n", sc.Text()); err != nil {
			return err
		}
	}
	return sc.Err()
}

type serialEcho struct {
	in, out *serial.Port
}

// startSerialEcho forwards everything received on the Bluetooth port to the
// USB port.
func startSerialEcho(in, out string, inBaud, outBaud int) (*serialEcho, error) {
	src, err := serial.OpenPort(&serial.Config{Name: in, Baud: inBaud})
	if err != nil {
		return nil, fmt.Errorf("couldn't open %s: %w", in, err)
	}
	dst, err := serial.OpenPort(&serial.Config{Name: out, Baud: outBaud})
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("couldn't open %s: %w", out, err)
	}

	go func() {
		if err := echoLines(dst, src); err != nil {
			log.Warnf("Serial echo stopped: %v", err)
		}
	}()
	return &serialEcho{in: src, out: dst}, nil
}

func (e *serialEcho) Close() error {
	errIn := e.in.Close()
	errOut := e.out.Close()
	if errIn != nil {
		return errIn
	}
	return errOut
}
