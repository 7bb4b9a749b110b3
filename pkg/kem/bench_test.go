package kem_test

import (
	"testing"

	"github.com/sara-star-quant/httq-go/pkg/kem"
)

func BenchmarkGenerateKeyPair(b *testing.B) {
	for _, level := range allLevels {
		b.Run(level.String(), func(b *testing.B) {
			m, _ := kem.New(level)
			b.ReportAllocs()
			for b.Loop() {
				if _, err := m.GenerateKeyPair(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncapsulate(b *testing.B) {
	for _, level := range allLevels {
		b.Run(level.String(), func(b *testing.B) {
			m, _ := kem.New(level)
			kp, _ := m.GenerateKeyPair()
			b.ReportAllocs()
			for b.Loop() {
				if _, err := m.Encapsulate(kp.PublicKey); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkDecapsulate(b *testing.B) {
	for _, level := range allLevels {
		b.Run(level.String(), func(b *testing.B) {
			m, _ := kem.New(level)
			kp, _ := m.GenerateKeyPair()
			es, _ := m.Encapsulate(kp.PublicKey)
			b.ReportAllocs()
			for b.Loop() {
				if _, err := m.Decapsulate(es.Ciphertext, kp.PrivateKey); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkEncapsulateParallel(b *testing.B) {
	m, _ := kem.New(kem.DefaultLevel)
	kp, _ := m.GenerateKeyPair()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := m.Encapsulate(kp.PublicKey); err != nil {
				b.Error(err)
				return
			}
		}
	})
}
