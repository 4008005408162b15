package chat

import (
	"time"

	"github.com/google/uuid"
)

const (
	greetingText = "Halo! Saya Mindfulness, asisten AI kamu untuk mendengarkan dan membantu dalam hal kesehatan mental. Ceritakan perasaanmu atau masalahmu, aku akan berusaha membantumu."
	refusalText  = "Maaf, saya tidak dapat membahas topik tersebut. Mari kita fokus pada hal-hal yang dapat membantu kesehatan mental kamu. Bagaimana perasaanmu hari ini?"

	abortedText         = "Jawaban dibatalkan."
	transportFailedText = "Tidak dapat terhubung ke server. Periksa koneksi internet Anda."
	invalidResponseText = "Server mengembalikan respons yang tidak valid. Silakan coba lagi."
	genericFailureText  = "Oops! Terjadi kesalahan saat menghubungi server. Silakan coba lagi."
)

func refusalFollowUps() []string {
	return []string{"Ceritakan tentang harimu", "Apa yang membuatmu bahagia?", "Bagaimana cara kamu mengatasi stres?"}
}

func errorFollowUps() []string {
	return []string{"Coba lagi", "Ceritakan dengan kata-kata lain", "Bagaimana perasaanmu sekarang?"}
}

// id prefixes
const (
	prefixSession = "session"
	prefixUser    = "user"
	prefixBot     = "bot"
	prefixBanned  = "bot-banned"
	prefixError   = "error"
)

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()
}

func sessionName(t time.Time) string {
	return "Chat " + t.Format("15:04")
}
