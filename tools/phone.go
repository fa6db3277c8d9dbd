package tools

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

const PRIVATE_CHAT_SUFFIX = "s.whatsapp.net"

var ErrNotPrivateChat = errors.New("not a private chat")

// ExtractPhone takes the number out of a WhatsApp JID such as
// "551199998888@s.whatsapp.net". Group and broadcast JIDs return
// ErrNotPrivateChat.
func ExtractPhone(remoteJid string) (string, error) {
	remoteJid = strings.TrimSpace(remoteJid)
	if remoteJid == "" {
		return "", fmt.Errorf("empty remoteJid")
	}
	if !strings.Contains(remoteJid, PRIVATE_CHAT_SUFFIX) {
		return "", ErrNotPrivateChat
	}
	user, _, _ := strings.Cut(remoteJid, "@")
	// device suffix, e.g. 5511999998888:12@s.whatsapp.net
	user, _, _ = strings.Cut(user, ":")
	return NormalizeWhatsAppTo(user)
}

// NormalizeWhatsAppTo normaliza um telefone para o formato internacional
// (apenas dígitos, sem '+').
//
// Heurística atual (Brasil):
// - remove tudo que não é dígito
// - se vier com 10/11 dígitos, assume BR e prefixa 55
// - celular BR antigo com 12 dígitos (55 + DDD + 8) ganha o nono dígito
func NormalizeWhatsAppTo(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("empty phone")
	}

	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	phone := strings.TrimLeft(b.String(), "0")

	if len(phone) == 10 || len(phone) == 11 {
		phone = "55" + phone
	}
	if len(phone) == 12 && strings.HasPrefix(phone, "55") {
		phone = phone[:4] + "9" + phone[4:]
	}

	if len(phone) < 12 {
		return "", fmt.Errorf("invalid phone length: %d", len(phone))
	}
	return phone, nil
}
