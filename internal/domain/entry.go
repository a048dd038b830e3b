package domain

// Bucket: единица учета, пара (личность, эндпоинт).
type Bucket struct {
	Identity    string `json:"identity"`
	EndpointKey string `json:"endpoint_key"`
}

func (b Bucket) String() string {
	return b.Identity + "|" + b.EndpointKey
}

// Entry: одна запись о пропущенном запросе. Никогда не обновляется на месте.
type Entry struct {
	Bucket
	TimestampMillis int64 `json:"ts"`
}

// Usage: результат атомарной операции "удалить устаревшее, посчитать, вставить если есть место".
type Usage struct {
	// Count: число записей в окне до вставки.
	Count        int64
	// OldestMillis: самая старая запись в окне (с учетом новой вставки), 0 если окно пусто.
	OldestMillis int64
	Admitted     bool
}
