package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Modified is the RPDE version marker of an item. Publishers use either integers or
// strings; integers compare numerically, anything else compares textually.
type Modified struct {
	raw     string
	num     int64
	numeric bool
	quoted  bool // published as a JSON string
}

func ModifiedInt(n int64) Modified {
	return Modified{raw: strconv.FormatInt(n, 10), num: n, numeric: true}
}

func ModifiedString(s string) Modified {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Modified{raw: s, num: n, numeric: true, quoted: true}
	}
	return Modified{raw: s, quoted: true}
}

func (m Modified) String() string {
	return m.raw
}

func (m Modified) IsZero() bool {
	return m.raw == ""
}

// Compare returns -1, 0 or +1 when m is older than, equal to, or newer than o.
func (m Modified) Compare(o Modified) int {
	if m.numeric && o.numeric {
		return cmp.Compare(m.num, o.num)
	}
	return strings.Compare(m.raw, o.raw)
}

func (m Modified) MarshalJSON() ([]byte, error) {
	if m.numeric && !m.quoted {
		return []byte(strconv.FormatInt(m.num, 10)), nil
	}
	return json.Marshal(m.raw)
}

func (m *Modified) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*m = Modified{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = ModifiedString(s)
		return nil
	}

	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("modified must be an integer or a string: %s", data)
	}
	*m = ModifiedInt(n)
	return nil
}
