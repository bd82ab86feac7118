package session

// prerollRing хранит PCM блоки перед стартом реплики.
// Ограничен длительностью, а не количеством блоков.
type prerollRing struct {
	chunks     [][]byte
	durations  []float64
	totalMs    float64
	sampleRate int
}

func newPrerollRing(sampleRate int) *prerollRing {
	return &prerollRing{sampleRate: sampleRate}
}

// push добавляет блок и отбрасывает самые старые, пока без них
// остаётся не меньше targetMs
func (p *prerollRing) push(pcm []byte, ms, targetMs float64) {
	p.chunks = append(p.chunks, pcm)
	p.durations = append(p.durations, ms)
	p.totalMs += ms

	drop := 0
	for drop < len(p.chunks)-1 && p.totalMs-p.durations[drop] >= targetMs {
		p.totalMs -= p.durations[drop]
		drop++
	}
	if drop > 0 {
		p.chunks = append(p.chunks[:0], p.chunks[drop:]...)
		p.durations = append(p.durations[:0], p.durations[drop:]...)
	}
}

// drain возвращает все блоки по порядку и очищает буфер
func (p *prerollRing) drain() [][]byte {
	out := p.chunks
	p.chunks = nil
	p.durations = nil
	p.totalMs = 0
	return out
}

func (p *prerollRing) durationMs() float64 { return p.totalMs }

func (p *prerollRing) count() int { return len(p.chunks) }
