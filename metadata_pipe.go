// Named-pipe metadata sink

package main

import (
	"encoding/base64"
	"os"
	"strconv"
	"strings"
	"sync"
)

const pipeBase64LineWidth = 76

// newPipeSink returns a deliver function that lazily opens the FIFO on
// first write. ENXIO (no reader currently attached) is tolerated; readers
// may come and go freely.
func newPipeSink(path string) func(MetadataPackage) {
	var mu sync.Mutex
	var f *os.File

	open := func() *os.File {
		mu.Lock()
		defer mu.Unlock()
		if f != nil {
			return f
		}
		fh, err := os.OpenFile(path, os.O_WRONLY, os.ModeNamedPipe)
		if err != nil {
			if strings.Contains(err.Error(), "no such device or address") {
				LogDebug("[METADATA:pipe] no reader attached")
			} else {
				LogDebug("[METADATA:pipe] open failed: " + err.Error())
			}
			return nil
		}
		f = fh
		return f
	}

	return func(pkg MetadataPackage) {
		fh := open()
		if fh == nil {
			return
		}

		payload := pkg.payload()
		length := len(payload)

		var b strings.Builder
		b.WriteString("<item><type>")
		b.WriteString(hex4(pkg.mtype))
		b.WriteString("</type><code>")
		b.WriteString(hex4(pkg.code))
		b.WriteString("</code><length>")
		b.WriteString(strconv.Itoa(length))
		b.WriteString("</length>\n<data encoding=\"base64\">\n")

		encoded := base64.StdEncoding.EncodeToString(payload)
		for i := 0; i < len(encoded); i += pipeBase64LineWidth {
			end := i + pipeBase64LineWidth
			if end > len(encoded) {
				end = len(encoded)
			}
			b.WriteString(encoded[i:end])
			b.WriteString("\n")
		}
		b.WriteString("</data></item>\n")

		if _, err := fh.WriteString(b.String()); err != nil {
			mu.Lock()
			f = nil
			mu.Unlock()
		}
	}
}

func hex4(b [4]byte) string {
	return strconv.FormatUint(
		uint64(b[0])<<24|uint64(b[1])<<16|uint64(b[2])<<8|uint64(b[3]), 16)
}
