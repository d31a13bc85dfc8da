package truststore

import (
	"bufio"
	"bytes"
	"encoding/pem"
	"fmt"
)

const (
	crlBegin = "-----BEGIN X509 CRL-----"
	crlEnd   = "-----END X509 CRL-----"
)

// splitCRLBlocks extracts every X509 CRL block from a concatenated PEM
// bundle and returns the DER bytes of each. The format is fixed and
// line-oriented, so this is a plain delimiter scan rather than a general
// PEM walk; anything between blocks is ignored, but a dangling BEGIN or a
// block that fails to decode is an error.
func splitCRLBlocks(data []byte) ([][]byte, error) {
	var blocks [][]byte
	var current *bytes.Buffer

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		switch {
		case string(line) == crlBegin:
			if current != nil {
				return nil, fmt.Errorf("nested %s marker", crlBegin)
			}
			current = &bytes.Buffer{}
			current.WriteString(crlBegin)
			current.WriteByte('\n')
		case string(line) == crlEnd:
			if current == nil {
				return nil, fmt.Errorf("%s without matching BEGIN", crlEnd)
			}
			current.WriteString(crlEnd)
			current.WriteByte('\n')
			block, _ := pem.Decode(current.Bytes())
			if block == nil {
				return nil, fmt.Errorf("undecodable X509 CRL block")
			}
			blocks = append(blocks, block.Bytes)
			current = nil
		default:
			if current != nil {
				current.Write(line)
				current.WriteByte('\n')
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning CRL bundle: %w", err)
	}
	if current != nil {
		return nil, fmt.Errorf("%s without matching END", crlBegin)
	}
	return blocks, nil
}
