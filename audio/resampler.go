package audio

// Resampler линейный ресемплер с состоянием между вызовами.
// Фаза и последний сэмпл переносятся в следующий вызов, поэтому
// обработка сигнала по частям совпадает с обработкой целиком.
type Resampler struct {
	inRate  int
	outRate int
	step    float64

	// phase - позиция следующего выходного сэмпла относительно начала буфера
	phase   float64
	last    float32
	hasLast bool
}

// NewResampler создаёт ресемплер inRate -> outRate
func NewResampler(inRate, outRate int) *Resampler {
	if inRate <= 0 {
		inRate = 1
	}
	if outRate <= 0 {
		outRate = inRate
	}
	return &Resampler{
		inRate:  inRate,
		outRate: outRate,
		step:    float64(inRate) / float64(outRate),
	}
}

// InRate возвращает входную частоту
func (r *Resampler) InRate() int { return r.inRate }

// OutRate возвращает выходную частоту
func (r *Resampler) OutRate() int { return r.outRate }

// Reset сбрасывает состояние
func (r *Resampler) Reset() {
	r.phase = 0
	r.last = 0
	r.hasLast = false
}

// Process ресемплирует очередной блок сэмплов
func (r *Resampler) Process(samples []float32) []float32 {
	if len(samples) == 0 {
		return nil
	}
	if r.inRate == r.outRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	// Последний сэмпл прошлого блока становится нулевым индексом текущего
	buf := samples
	if r.hasLast {
		buf = make([]float32, 0, len(samples)+1)
		buf = append(buf, r.last)
		buf = append(buf, samples...)
	}

	limit := float64(len(buf) - 1)
	out := make([]float32, 0, int(float64(len(samples))/r.step)+2)

	t := r.phase
	for t < limit {
		idx := int(t)
		frac := float32(t - float64(idx))
		s0 := buf[idx]
		s1 := buf[idx+1]
		out = append(out, s0+(s1-s0)*frac)
		t += r.step
	}

	r.phase = t - limit
	r.last = buf[len(buf)-1]
	r.hasLast = true
	return out
}
