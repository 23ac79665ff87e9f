package market

// History - кольцевой буфер последних W цен инструмента
//
// Append за O(1): при переполнении самая старая цена перезаписывается (FIFO).
// Не потокобезопасен, доступ сериализуется владельцем PriceState.
type History struct {
	buf   []float64
	start int
	count int
}

// NewHistory создает буфер на window значений (минимум 2)
func NewHistory(window int) *History {
	if window < 2 {
		window = 2
	}
	return &History{buf: make([]float64, window)}
}

// Push добавляет цену, вытесняя самую старую при переполнении
func (h *History) Push(v float64) {
	size := len(h.buf)
	idx := (h.start + h.count) % size
	if h.count == size {
		h.start = (h.start + 1) % size
		h.count--
	}
	h.buf[idx] = v
	h.count++
}

// Len возвращает текущее количество наблюдений
func (h *History) Len() int {
	return h.count
}

// Cap возвращает размер окна W
func (h *History) Cap() int {
	return len(h.buf)
}

// Last возвращает последнюю цену (0 для пустого буфера)
func (h *History) Last() float64 {
	if h.count == 0 {
		return 0
	}
	return h.buf[(h.start+h.count-1)%len(h.buf)]
}

// Values возвращает копию истории от старых к новым
func (h *History) Values() []float64 {
	return h.Tail(h.count)
}

// Tail возвращает копию последних n значений от старых к новым
func (h *History) Tail(n int) []float64 {
	if n > h.count {
		n = h.count
	}
	if n <= 0 {
		return nil
	}
	out := make([]float64, n)
	first := h.start + h.count - n
	for i := 0; i < n; i++ {
		out[i] = h.buf[(first+i)%len(h.buf)]
	}
	return out
}
