package cryptdev

import (
	"fmt"
	"strings"
	"testing"

	"github.com/absfs/memfs"
)

// Benchmark sizes
var benchSizes = []int{
	1 * SectorSize,
	8 * SectorSize,   // 4KB
	128 * SectorSize, // 64KB
	2048 * SectorSize,
}

func setupBenchTarget(b *testing.B, params string, sectors int) *Target {
	b.Helper()

	base, err := memfs.NewFS()
	if err != nil {
		b.Fatalf("Failed to create base filesystem: %v", err)
	}
	f, err := base.Create("/disk.img")
	if err != nil {
		b.Fatal(err)
	}
	if _, err := f.Write(make([]byte, sectors*SectorSize)); err != nil {
		b.Fatal(err)
	}
	f.Close()

	target, err := New(base, &Config{Params: params + " 0 /disk.img 0", Logger: testLogger()})
	if err != nil {
		b.Fatalf("Failed to create target: %v", err)
	}
	b.Cleanup(target.Destroy)
	return target
}

func BenchmarkWrite(b *testing.B) {
	for _, spec := range []string{
		"aes-cbc-plain " + testKey128,
		"aes-cbc-essiv:sha256 " + testKey256,
	} {
		for _, size := range benchSizes {
			b.Run(fmt.Sprintf("%s/%s", strings.Fields(spec)[0], formatSize(size)), func(b *testing.B) {
				target := setupBenchTarget(b, spec, size/SectorSize)
				data := patternData(size, 0x42)

				b.SetBytes(int64(size))
				b.ResetTimer()
				for i := 0; i < b.N; i++ {
					if _, err := target.WriteAt(data, 0); err != nil {
						b.Fatal(err)
					}
				}
			})
		}
	}
}

func BenchmarkRead(b *testing.B) {
	for _, size := range benchSizes {
		b.Run(formatSize(size), func(b *testing.B) {
			target := setupBenchTarget(b, "aes-cbc-essiv:sha256 "+testKey256, size/SectorSize)
			data := patternData(size, 0x42)
			if _, err := target.WriteAt(data, 0); err != nil {
				b.Fatal(err)
			}

			buf := make([]byte, size)
			b.SetBytes(int64(size))
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := target.ReadAt(buf, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkParallelWorkers(b *testing.B) {
	const size = 256 * SectorSize

	for _, workers := range []int{1, 2, 4, 8} {
		b.Run(fmt.Sprintf("workers-%d", workers), func(b *testing.B) {
			provider, err := NewSoftProvider(ProviderConfig{Workers: workers, Logger: testLogger()})
			if err != nil {
				b.Fatal(err)
			}
			defer provider.Close()

			base, err := memfs.NewFS()
			if err != nil {
				b.Fatal(err)
			}
			f, err := base.Create("/disk.img")
			if err != nil {
				b.Fatal(err)
			}
			f.Write(make([]byte, size))
			f.Close()

			target, err := New(base, &Config{
				Params:   "aes-cbc-essiv:sha256 " + testKey256 + " 0 /disk.img 0",
				Provider: provider,
				Logger:   testLogger(),
			})
			if err != nil {
				b.Fatal(err)
			}
			defer target.Destroy()

			data := patternData(size, 0x13)
			b.SetBytes(size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := target.WriteAt(data, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkSectorCipher(b *testing.B) {
	algs := []struct {
		alg Algorithm
		key int
	}{
		{AlgorithmAES, 32},
		{AlgorithmBlowfish, 16},
		{AlgorithmTripleDES, 21},
		{AlgorithmCamellia, 32},
		{AlgorithmCAST5, 16},
	}

	for _, a := range algs {
		b.Run(a.alg.String(), func(b *testing.B) {
			sc, err := newSectorCipher(a.alg, patternData(a.key, 1))
			if err != nil {
				b.Fatal(err)
			}
			buf := patternData(SectorSize, 2)
			iv := make([]byte, IVSize)

			b.SetBytes(SectorSize)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				sc.Crypt(Encrypt, buf, iv)
			}
		})
	}
}

func formatSize(size int) string {
	switch {
	case size >= 1024*1024:
		return fmt.Sprintf("%dMB", size/(1024*1024))
	case size >= 1024:
		return fmt.Sprintf("%dKB", size/1024)
	default:
		return fmt.Sprintf("%dB", size)
	}
}
