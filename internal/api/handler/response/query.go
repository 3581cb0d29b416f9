package response

type ColumnSchema struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
}

type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

type SchemaResponse struct {
	Tables   []TableSchema     `json:"tables"`
	Synonyms map[string]string `json:"synonyms"`
}
