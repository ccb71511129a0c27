package datanorm

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDelimited_Leads(t *testing.T) {
	input := "\xEF\xBB\xBFEmail Address,Full Name,created_at,Favourite Color\n" +
		" A@B.com ,jane doe,2024-01-01,blue\n" +
		"\n" +
		"c@d.com,john,2024-02-01,green\n"

	p, err := ParseDelimited(SourceLeads, strings.NewReader(input), ',')
	require.NoError(t, err)

	assert.Equal(t, []string{FieldEmail, FieldName, FieldCreationDate, "favourite_color"}, p.Columns)
	require.Len(t, p.Records, 2)
	assert.Empty(t, p.Errors)
	assert.Equal(t, 2, p.Total())

	first := p.Records[0]
	assert.Equal(t, 1, first.Seq)
	assert.Equal(t, 2, first.Line)
	assert.Equal(t, "A@B.com", first.Fields[FieldEmail])
	assert.Equal(t, "blue", first.Fields["favourite_color"])

	second := p.Records[1]
	assert.Equal(t, 2, second.Seq)
	assert.Equal(t, 4, second.Line)
}

func TestParseDelimited_MalformedRowsAreCounted(t *testing.T) {
	input := "transaction_id|user_uuid|status|amount|timestamp\n" +
		"TX-1|u1|completed|10.00|2024-01-01 10:00:00\n" +
		"TX-2|u1|completed\n" +
		"TX-3|u2|pending|5|2024-01-02 10:00:00|extra\n" +
		"TX-4|u2|pending|7.5|2024-01-03 10:00:00\n"

	p, err := ParseDelimited(SourceTransactions, strings.NewReader(input), '|')
	require.NoError(t, err)

	require.Len(t, p.Records, 2)
	require.Len(t, p.Errors, 2)
	assert.Equal(t, 4, p.Total())

	assert.Equal(t, "TX-1", p.Records[0].Fields[FieldTransactionID])
	assert.Equal(t, "TX-4", p.Records[1].Fields[FieldTransactionID])
	assert.Equal(t, 4, p.Records[1].Seq)

	assert.Equal(t, 2, p.Errors[0].Seq)
	assert.Equal(t, 3, p.Errors[0].Line)
	assert.Contains(t, p.Errors[0].Message, "3 fields")
	assert.Equal(t, SourceTransactions, p.Errors[1].Source)
	assert.Equal(t, 3, p.Errors[1].Seq)
}

func TestParseDelimited_StrayQuoteCostsOneLine(t *testing.T) {
	input := "transaction_id|user_uuid|status|amount|timestamp\n" +
		"TX-1|\"u1|completed|10|2024-01-01 10:00:00\n" +
		"TX-2|u1|completed|20|2024-01-02 10:00:00\n" +
		"TX-3|u2|pending|5|2024-01-03 10:00:00\n" +
		"TX-4|u2|refunded|7.5|2024-01-04 10:00:00\n"

	p, err := ParseDelimited(SourceTransactions, strings.NewReader(input), '|')
	require.NoError(t, err)

	require.Len(t, p.Records, 3)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, 4, p.Total())

	assert.Equal(t, 1, p.Errors[0].Seq)
	assert.Equal(t, 2, p.Errors[0].Line)
	for i, id := range []string{"TX-2", "TX-3", "TX-4"} {
		assert.Equal(t, id, p.Records[i].Fields[FieldTransactionID])
		assert.Equal(t, i+2, p.Records[i].Seq)
		assert.Equal(t, i+3, p.Records[i].Line)
	}
}

func TestParseDelimited_QuotedFieldWithinLine(t *testing.T) {
	input := "email,name,company\r\n" +
		"a@b.com,\"Doe, Jane\",Acme\r\n" +
		"c@d.com,\"Unclosed, Co\r\n" +
		"e@f.com,Sam,\"Big \"\"Q\"\" Ltd\""

	p, err := ParseDelimited(SourceLeads, strings.NewReader(input), ',')
	require.NoError(t, err)

	require.Len(t, p.Records, 2)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "Doe, Jane", p.Records[0].Fields[FieldName])
	assert.Equal(t, `Big "Q" Ltd`, p.Records[1].Fields[FieldCompany])
	assert.Equal(t, 4, p.Records[1].Line)
	assert.Equal(t, 3, p.Errors[0].Line)
}

func TestParseDelimited_MissingRequiredColumn(t *testing.T) {
	_, err := ParseDelimited(SourceTransactions, strings.NewReader("transaction_id|status\nTX-1|completed\n"), '|')
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumns))
	assert.Contains(t, err.Error(), FieldAmount)
}

func TestParseDelimited_EmptyInput(t *testing.T) {
	p, err := ParseDelimited(SourceLeads, strings.NewReader(""), ',')
	require.NoError(t, err)
	assert.Equal(t, 0, p.Total())
}

func TestParseDelimited_ReaderFailure(t *testing.T) {
	_, err := ParseDelimited(SourceLeads, failingReader{}, ',')
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSourceUnreadable))
}

func TestParseJSONLines(t *testing.T) {
	input := `{"user_uuid": "u1", "page_views": 3, "activity_timestamp": "2024-03-01T10:00:00Z"}
{"user_uuid": null, "page_views": 2}

not json
[1, 2]
{"uuid": "u2", "views": 4.0, "extra": {"k": "v"}}
null`

	p, err := ParseJSONLines(SourceActivity, strings.NewReader(input))
	require.NoError(t, err)

	require.Len(t, p.Records, 3)
	require.Len(t, p.Errors, 3)
	assert.Equal(t, 6, p.Total())

	first := p.Records[0]
	assert.Equal(t, "u1", first.Fields[FieldUserUUID])
	assert.Equal(t, "3", first.Fields[FieldPageViews])

	second := p.Records[1]
	_, hasUUID := second.Get(FieldUserUUID)
	assert.False(t, hasUUID, "JSON null must read as absent")
	assert.Equal(t, 2, second.Seq)

	third := p.Records[2]
	assert.Equal(t, "u2", third.Fields[FieldUserUUID])
	assert.Equal(t, "4.0", third.Fields[FieldPageViews])
	assert.Equal(t, `{"k":"v"}`, third.Fields["extra"])
	assert.Equal(t, 6, third.Line)

	assert.Equal(t, 4, p.Errors[0].Line)
	assert.Equal(t, 3, p.Errors[0].Seq)
	assert.Equal(t, 5, p.Errors[1].Line)
	assert.Equal(t, 7, p.Errors[2].Line)
}

func TestParseJSONLines_CanonicalKeyWinsOverAlias(t *testing.T) {
	p, err := ParseJSONLines(SourceActivity, strings.NewReader(`{"uuid": "alias", "user_uuid": "canonical"}`))
	require.NoError(t, err)
	require.Len(t, p.Records, 1)
	assert.Equal(t, "canonical", p.Records[0].Fields[FieldUserUUID])
}

func TestCanonicalColumn(t *testing.T) {
	tests := []struct {
		src  Source
		raw  string
		want string
	}{
		{SourceLeads, " Email ", FieldEmail},
		{SourceLeads, "\"E-Mail\"", FieldEmail},
		{SourceLeads, "First Name", FieldFirstName},
		{SourceLeads, "Created_At", FieldCreationDate},
		{SourceTransactions, "TXN_ID", FieldTransactionID},
		{SourceTransactions, "created_at", FieldTimestamp},
		{SourceActivity, "PageViews", FieldPageViews},
		{SourceActivity, "Browser Name", "browser_name"},
	}

	for _, tt := range tests {
		t.Run(string(tt.src)+"/"+tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalColumn(tt.src, tt.raw))
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("disk gone") }
