package market

// DataType enumerates the shapes of data the federation engine serves.
type DataType string

const (
	DataTypePrice        DataType = "price"
	DataTypeOHLCV        DataType = "ohlcv"
	DataTypeFundamentals DataType = "fundamentals"
	DataTypeTechnical    DataType = "technical"
	DataTypeSentiment    DataType = "sentiment"
	DataTypeNews         DataType = "news"
	DataTypeMacro        DataType = "macro"
	DataTypeCorrelation  DataType = "correlation"
	DataTypeRisk         DataType = "risk"
)

// Valid reports whether dt belongs to the closed enumeration.
func (dt DataType) Valid() bool {
	switch dt {
	case DataTypePrice, DataTypeOHLCV, DataTypeFundamentals, DataTypeTechnical,
		DataTypeSentiment, DataTypeNews, DataTypeMacro, DataTypeCorrelation,
		DataTypeRisk:
		return true
	}
	return false
}

// Fetchable reports whether adapters expose a direct fetch operation for dt.
// The remaining types exist as merge and scoring vocabulary only.
func (dt DataType) Fetchable() bool {
	switch dt {
	case DataTypePrice, DataTypeOHLCV, DataTypeFundamentals,
		DataTypeTechnical, DataTypeNews:
		return true
	}
	return false
}
