package gateway

import (
	"bytes"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

const tokenField = "Token"

// Sign вычисляет токен запроса: значения скалярных полей верхнего уровня,
// упорядоченные по ключу, конкатенируются, в конец дописывается пароль терминала,
// результат хэшируется SHA-256.
func Sign(fields map[string]string, password string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k == tokenField {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(fields[k])
	}
	b.WriteString(password)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// ScalarFields извлекает из JSON-объекта скалярные поля верхнего уровня в их
// каноническом строковом виде. Вложенные объекты, массивы и null пропускаются.
func ScalarFields(raw []byte) (map[string]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode payload: not an object")
	}

	fields := make(map[string]string, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			fields[k] = val
		case json.Number:
			fields[k] = val.String()
		case bool:
			fields[k] = strconv.FormatBool(val)
		}
	}

	return fields, nil
}

// Verify сравнивает токен из полей с ожидаемым за постоянное время.
func Verify(fields map[string]string, password string) bool {
	got, ok := fields[tokenField]
	if !ok || got == "" {
		return false
	}
	want := Sign(fields, password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(got)), []byte(want)) == 1
}
