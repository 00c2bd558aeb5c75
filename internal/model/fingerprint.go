package model

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint identifies a bar sequence by content: any change to any field
// of any bar, or to the bar count, changes it.
func Fingerprint(bars []Bar) string {
	d := xxhash.New()
	var buf [8 * 12]byte
	for i := range bars {
		b := &bars[i]
		binary.LittleEndian.PutUint64(buf[0:], uint64(b.Time))
		for j, f := range [...]float64{b.Open, b.High, b.Low, b.Close, b.Volume, b.Spread,
			b.Migration, b.Youth, b.Workload, b.RawBio, b.RawEnrol} {
			binary.LittleEndian.PutUint64(buf[8*(j+1):], math.Float64bits(f))
		}
		d.Write(buf[:])
	}
	return strconv.FormatUint(d.Sum64(), 16) + "-" + strconv.Itoa(len(bars))
}
