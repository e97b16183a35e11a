package pagecache

// admitLocked places a freshly materialized page into a tier. With
// probability admissionProbability it goes straight to hot; otherwise it
// lands in cold, so scan traffic cannot wash out the hot set. Requires both
// tier mutexes.
func (c *MiraPageCache) admitLocked(mp *miraPage, threshold float64) {
	if c.rand01() < c.currentAdmissionProbability() {
		c.insertLocked(c.hot, mp, threshold)
		return
	}
	c.insertLocked(c.cold, mp, threshold)
}
